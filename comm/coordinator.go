package comm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

// Constants

// States a sync session passes through.
const (
	StatusIdle SyncStatus = iota
	StatusPending
	StatusReceiving
	StatusSending
	StatusCompleted
	StatusFailed
)

// Structs

// SyncStatus is the state of one sync session.
type SyncStatus int

// SyncSession tracks one synchronization with a peer.
type SyncSession struct {
	ID            string
	Peer          clock.ActorID
	Status        SyncStatus
	StartedAt     time.Time
	LastActivity  time.Time
	InitialClock  clock.VectorClock
	CurrentClock  clock.VectorClock
	BytesSent     uint64
	BytesReceived uint64
}

// SyncMetadata remembers the last synchronization
// with one peer.
type SyncMetadata struct {
	Peer      clock.ActorID
	SessionID string
	LastSync  time.Time
	LastClock clock.VectorClock
}

// SyncStatistics aggregates all finished sessions.
type SyncStatistics struct {
	TotalSessions      uint64
	SuccessfulSyncs    uint64
	FailedSyncs        uint64
	TotalBytesSent     uint64
	TotalBytesReceived uint64
	AvgSyncDuration    time.Duration
}

// DeltaProvider computes what the holder of a vector
// clock lacks. *crdt.RGA is one.
type DeltaProvider interface {
	DeltaSince(vc clock.VectorClock) (*crdt.Delta, error)
	VectorClock() clock.VectorClock
}

// Coordinator manages the sync sessions of one replica.
// Sessions, peer metadata and statistics are guarded
// by separate locks.
type Coordinator struct {
	actor        clock.ActorID
	sessionsLock *sync.RWMutex
	sessions     map[string]*SyncSession
	peersLock    *sync.RWMutex
	peers        map[clock.ActorID]*SyncMetadata
	statsLock    *sync.Mutex
	stats        SyncStatistics
	now          func() time.Time
}

// Functions

// String returns the textual name of a status.
func (s SyncStatus) String() string {

	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusReceiving:
		return "receiving"
	case StatusSending:
		return "sending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// InitCoordinator returns a coordinator for actor.
func InitCoordinator(actor clock.ActorID) *Coordinator {
	return InitCoordinatorWithClock(actor, time.Now)
}

// InitCoordinatorWithClock returns a coordinator
// reading the current time from now.
func InitCoordinatorWithClock(actor clock.ActorID, now func() time.Time) *Coordinator {

	return &Coordinator{
		actor:        actor,
		sessionsLock: new(sync.RWMutex),
		sessions:     make(map[string]*SyncSession),
		peersLock:    new(sync.RWMutex),
		peers:        make(map[clock.ActorID]*SyncMetadata),
		statsLock:    new(sync.Mutex),
		now:          now,
	}
}

// Actor returns the replica this coordinator serves.
func (c *Coordinator) Actor() clock.ActorID {
	return c.actor
}

// StartSync opens a pending session with peer and
// returns the request to send.
func (c *Coordinator) StartSync(peer clock.ActorID, vc clock.VectorClock) *SyncRequest {

	id := fmt.Sprintf("sync-%s-%s", c.actor, uuid.NewV4())
	now := c.now()

	req := &SyncRequest{
		From:      c.actor,
		To:        peer,
		Clock:     vc.Copy(),
		SessionID: id,
	}

	session := &SyncSession{
		ID:           id,
		Peer:         peer,
		Status:       StatusPending,
		StartedAt:    now,
		LastActivity: now,
		InitialClock: vc.Copy(),
		CurrentClock: vc.Copy(),
		BytesSent:    uint64(req.Size()),
	}

	c.sessionsLock.Lock()
	c.sessions[id] = session
	c.sessionsLock.Unlock()

	c.statsLock.Lock()
	c.stats.TotalSessions++
	c.statsLock.Unlock()

	return req
}

// HandleSyncRequest answers req on the responding
// side with everything provider holds beyond the
// requester's clock and records the requester's clock
// as what it was last synced with.
func (c *Coordinator) HandleSyncRequest(req *SyncRequest, provider DeltaProvider) (*SyncResponse, error) {

	// Read the clock before cutting the delta, so the
	// response never claims more than it carries.
	vc := provider.VectorClock()

	delta, err := provider.DeltaSince(req.Clock)
	if err != nil {
		return nil, errors.Wrapf(err, "computing delta for session %s failed", req.SessionID)
	}

	c.RecordSync(req.From, req.SessionID, req.Clock)

	return &SyncResponse{
		From:      c.actor,
		To:        req.From,
		Delta:     delta,
		Clock:     vc,
		SessionID: req.SessionID,
	}, nil
}

// HandleSyncResponse accounts a response on the
// initiating side: the session moves to receiving,
// its clock absorbs the response's clock and the
// response's wire size is counted as received.
func (c *Coordinator) HandleSyncResponse(resp *SyncResponse) error {

	size := uint64(resp.Size())

	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	session, found := c.sessions[resp.SessionID]
	if !found {
		return errors.Wrapf(ErrUnknownSession, "response for session %s", resp.SessionID)
	}

	session.Status = StatusReceiving
	session.LastActivity = c.now()
	session.BytesReceived += size
	session.CurrentClock.Merge(resp.Clock)

	return nil
}

// MarkSending moves a session to sending and counts
// bytes as sent in it.
func (c *Coordinator) MarkSending(id string, bytes int) error {

	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	session, found := c.sessions[id]
	if !found {
		return errors.Wrapf(ErrUnknownSession, "sending in session %s", id)
	}

	session.Status = StatusSending
	session.LastActivity = c.now()
	session.BytesSent += uint64(bytes)

	return nil
}

// CompleteSync finishes a session successfully
// and folds it into the statistics.
func (c *Coordinator) CompleteSync(id string) error {
	return c.finish(id, StatusCompleted)
}

// FailSync finishes a session unsuccessfully and folds
// it into the statistics. Operations applied during the
// session stay applied.
func (c *Coordinator) FailSync(id string, cause error) error {

	err := c.finish(id, StatusFailed)
	if err != nil {
		return errors.Wrapf(err, "failing session with: %v", cause)
	}

	return nil
}

// finish removes session id and updates the statistics.
func (c *Coordinator) finish(id string, status SyncStatus) error {

	c.sessionsLock.Lock()

	session, found := c.sessions[id]
	if !found {
		c.sessionsLock.Unlock()
		return errors.Wrapf(ErrUnknownSession, "finishing session %s", id)
	}

	delete(c.sessions, id)
	session.Status = status

	c.sessionsLock.Unlock()

	c.statsLock.Lock()
	c.account(session, status, c.now())
	c.statsLock.Unlock()

	return nil
}

// account folds a finished session into the
// statistics. statsLock must be held.
func (c *Coordinator) account(session *SyncSession, status SyncStatus, now time.Time) {

	duration := now.Sub(session.StartedAt)
	if duration < 0 {
		duration = 0
	}

	if status == StatusCompleted {
		c.stats.SuccessfulSyncs++
	} else {
		c.stats.FailedSyncs++
	}

	c.stats.TotalBytesSent += session.BytesSent
	c.stats.TotalBytesReceived += session.BytesReceived

	// Running average over all finished sessions,
	// kept in whole milliseconds.
	n := c.stats.SuccessfulSyncs + c.stats.FailedSyncs
	avg := uint64(c.stats.AvgSyncDuration / time.Millisecond)
	d := uint64(duration / time.Millisecond)
	c.stats.AvgSyncDuration = time.Duration((avg*(n-1)+d)/n) * time.Millisecond
}

// CleanupExpiredSessions drops every session without
// activity for longer than timeout, counting each as a
// failed sync that lasted until now. It returns the IDs
// of dropped sessions.
func (c *Coordinator) CleanupExpiredSessions(timeout time.Duration) []string {

	now := c.now()
	expired := make([]string, 0)
	dropped := make([]*SyncSession, 0)

	c.sessionsLock.Lock()

	for id, session := range c.sessions {

		if now.Sub(session.LastActivity) > timeout {
			expired = append(expired, id)
			dropped = append(dropped, session)
			delete(c.sessions, id)
		}
	}

	c.sessionsLock.Unlock()

	if len(dropped) > 0 {

		c.statsLock.Lock()

		for _, session := range dropped {
			session.Status = StatusFailed
			c.account(session, StatusFailed, now)
		}

		c.statsLock.Unlock()
	}

	sort.Strings(expired)

	return expired
}

// RunExpiry sweeps expired sessions every interval
// until ctx is done. onExpire, if set, is called with
// the IDs of each non-empty sweep.
func (c *Coordinator) RunExpiry(ctx context.Context, interval time.Duration, timeout time.Duration, onExpire func([]string)) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {

		select {

		case <-ctx.Done():
			return

		case <-ticker.C:

			expired := c.CleanupExpiredSessions(timeout)
			if len(expired) > 0 && onExpire != nil {
				onExpire(expired)
			}
		}
	}
}

// RecordSync stores vc as the clock peer was last
// synchronized with.
func (c *Coordinator) RecordSync(peer clock.ActorID, sessionID string, vc clock.VectorClock) {

	c.peersLock.Lock()
	defer c.peersLock.Unlock()

	c.peers[peer] = &SyncMetadata{
		Peer:      peer,
		SessionID: sessionID,
		LastSync:  c.now(),
		LastClock: vc.Copy(),
	}
}

// NeedsSync reports whether vc holds anything peer
// did not have at the last recorded sync. Without any
// recorded sync it is always true.
func (c *Coordinator) NeedsSync(peer clock.ActorID, vc clock.VectorClock) bool {

	c.peersLock.RLock()
	defer c.peersLock.RUnlock()

	meta, found := c.peers[peer]
	if !found {
		return true
	}

	o := vc.Compare(meta.LastClock)

	return o != clock.Before && o != clock.Equal
}

// PeerMetadata returns a copy of what is known
// about the last sync with peer.
func (c *Coordinator) PeerMetadata(peer clock.ActorID) (SyncMetadata, bool) {

	c.peersLock.RLock()
	defer c.peersLock.RUnlock()

	meta, found := c.peers[peer]
	if !found {
		return SyncMetadata{}, false
	}

	m := *meta
	m.LastClock = meta.LastClock.Copy()

	return m, true
}

// Session returns a copy of the active session id.
func (c *Coordinator) Session(id string) (SyncSession, bool) {

	c.sessionsLock.RLock()
	defer c.sessionsLock.RUnlock()

	session, found := c.sessions[id]
	if !found {
		return SyncSession{}, false
	}

	return copySession(session), true
}

// ActiveSessions returns copies of all active
// sessions, oldest first.
func (c *Coordinator) ActiveSessions() []SyncSession {

	c.sessionsLock.RLock()

	sessions := make([]SyncSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, copySession(session))
	}

	c.sessionsLock.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {

		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}

		return sessions[i].ID < sessions[j].ID
	})

	return sessions
}

// Statistics returns a copy of the aggregate statistics.
func (c *Coordinator) Statistics() SyncStatistics {

	c.statsLock.Lock()
	defer c.statsLock.Unlock()

	return c.stats
}

// copySession returns a deep copy of s.
func copySession(s *SyncSession) SyncSession {

	c := *s
	c.InitialClock = s.InitialClock.Copy()
	c.CurrentClock = s.CurrentClock.Copy()

	return c
}
