package comm

import (
	"sync"
	"time"
)

// Structs

// BandwidthLimiter grants a fixed number of bytes per
// wall-clock second. The budget is refilled completely
// once a full second has passed since the last refill.
type BandwidthLimiter struct {
	lock      *sync.Mutex
	maxBps    uint64
	usage     uint64
	lastReset time.Time
	now       func() time.Time
}

// Functions

// InitBandwidthLimiter returns a limiter granting
// maxBps bytes per second.
func InitBandwidthLimiter(maxBps uint64) *BandwidthLimiter {
	return InitBandwidthLimiterWithClock(maxBps, time.Now)
}

// InitBandwidthLimiterWithClock returns a limiter
// reading the current time from now.
func InitBandwidthLimiterWithClock(maxBps uint64, now func() time.Time) *BandwidthLimiter {

	return &BandwidthLimiter{
		lock:      new(sync.Mutex),
		maxBps:    maxBps,
		lastReset: now(),
		now:       now,
	}
}

// resetIfNeeded refills the budget after a full
// second. The caller holds the lock.
func (l *BandwidthLimiter) resetIfNeeded() {

	now := l.now()

	if now.Sub(l.lastReset) >= time.Second {
		l.usage = 0
		l.lastReset = now
	}
}

// CanSend reports whether bytes still fit
// into the current second's budget.
func (l *BandwidthLimiter) CanSend(bytes uint64) bool {

	l.lock.Lock()
	defer l.lock.Unlock()

	l.resetIfNeeded()

	return l.usage+bytes <= l.maxBps
}

// RecordSent consumes bytes of the budget.
func (l *BandwidthLimiter) RecordSent(bytes uint64) {

	l.lock.Lock()
	defer l.lock.Unlock()

	l.resetIfNeeded()
	l.usage += bytes
}

// Remaining returns what is left of the budget.
func (l *BandwidthLimiter) Remaining() uint64 {

	l.lock.Lock()
	defer l.lock.Unlock()

	l.resetIfNeeded()

	if l.usage >= l.maxBps {
		return 0
	}

	return l.maxBps - l.usage
}
