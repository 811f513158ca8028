package comm

import (
	"sort"
	"sync"
	"time"

	"github.com/numbleroot/strand/clock"
)

// Constants

// DefaultPriority is assumed for peers without
// an explicitly set priority.
const DefaultPriority uint8 = 128

// Structs

// AdaptiveScheduler decides which peer to sync with
// next. Every peer has a priority from 0 (most urgent)
// to 255, which stretches the base interval between
// two syncs with that peer by up to a factor of three.
type AdaptiveScheduler struct {
	lock       *sync.Mutex
	priorities map[clock.ActorID]uint8
	lastSync   map[clock.ActorID]time.Time
	base       time.Duration
	now        func() time.Time
}

// Functions

// InitAdaptiveScheduler returns a scheduler with
// the supplied base interval.
func InitAdaptiveScheduler(base time.Duration) *AdaptiveScheduler {
	return InitAdaptiveSchedulerWithClock(base, time.Now)
}

// InitAdaptiveSchedulerWithClock returns a scheduler
// reading the current time from now.
func InitAdaptiveSchedulerWithClock(base time.Duration, now func() time.Time) *AdaptiveScheduler {

	return &AdaptiveScheduler{
		lock:       new(sync.Mutex),
		priorities: make(map[clock.ActorID]uint8),
		lastSync:   make(map[clock.ActorID]time.Time),
		base:       base,
		now:        now,
	}
}

// SetPeerPriority registers peer with priority.
// Only registered peers are ever returned by
// NextPeerToSync.
func (s *AdaptiveScheduler) SetPeerPriority(peer clock.ActorID, priority uint8) {

	s.lock.Lock()
	s.priorities[peer] = priority
	s.lock.Unlock()
}

// interval returns base * (1 + priority/128).
// The caller holds the lock.
func (s *AdaptiveScheduler) interval(peer clock.ActorID) time.Duration {

	priority, found := s.priorities[peer]
	if !found {
		priority = DefaultPriority
	}

	return time.Duration(float64(s.base) * (1.0 + float64(priority)/128.0))
}

// Interval returns the time that has to pass
// between two syncs with peer.
func (s *AdaptiveScheduler) Interval(peer clock.ActorID) time.Duration {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.interval(peer)
}

// isSyncDue is IsSyncDue with the lock held.
func (s *AdaptiveScheduler) isSyncDue(peer clock.ActorID) bool {

	last, found := s.lastSync[peer]
	if !found {
		return true
	}

	return s.now().Sub(last) >= s.interval(peer)
}

// IsSyncDue reports whether peer has never been synced
// with or its interval has passed since the last sync.
func (s *AdaptiveScheduler) IsSyncDue(peer clock.ActorID) bool {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.isSyncDue(peer)
}

// RecordSync notes that a sync with peer just happened.
func (s *AdaptiveScheduler) RecordSync(peer clock.ActorID) {

	s.lock.Lock()
	s.lastSync[peer] = s.now()
	s.lock.Unlock()
}

// NextPeerToSync returns the due peer with the lowest
// priority value. Ties go to the smaller actor ID.
func (s *AdaptiveScheduler) NextPeerToSync() (clock.ActorID, bool) {

	s.lock.Lock()
	defer s.lock.Unlock()

	due := make([]clock.ActorID, 0, len(s.priorities))

	for peer := range s.priorities {

		if s.isSyncDue(peer) {
			due = append(due, peer)
		}
	}

	if len(due) == 0 {
		return "", false
	}

	sort.Slice(due, func(i, j int) bool {

		pi, pj := s.priorities[due[i]], s.priorities[due[j]]
		if pi != pj {
			return pi < pj
		}

		return due[i] < due[j]
	})

	return due[0], true
}
