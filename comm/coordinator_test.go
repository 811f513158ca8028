package comm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structs

// fakeClock is a manually advanced time source.
type fakeClock struct {
	lock *sync.Mutex
	t    time.Time
}

// Variables

var (
	actorA = clock.ActorID("10000000-a071-4227-9e63-a4b0ee84688f")
	actorB = clock.ActorID("20000000-a071-4227-9e63-a4b0ee84688f")
	actorC = clock.ActorID("30000000-a071-4227-9e63-a4b0ee84688f")
)

// Functions

func newFakeClock() *fakeClock {

	return &fakeClock{
		lock: new(sync.Mutex),
		t:    time.Unix(1500000000, 0),
	}
}

func (f *fakeClock) Now() time.Time {

	f.lock.Lock()
	defer f.lock.Unlock()

	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {

	f.lock.Lock()
	f.t = f.t.Add(d)
	f.lock.Unlock()
}

// TestStartSync executes a white-box unit test
// on implemented StartSync() function.
func TestStartSync(t *testing.T) {

	c := InitCoordinator(actorA)
	vc := clock.VectorClock{actorA: 3}

	req := c.StartSync(actorB, vc)

	assert.Equal(t, actorA, req.From)
	assert.Equal(t, actorB, req.To)
	assert.Equal(t, vc, req.Clock)

	if !strings.HasPrefix(req.SessionID, "sync-"+string(actorA)+"-") {
		t.Fatalf("[comm.TestStartSync] Expected session ID to start with 'sync-%s-' but got '%s'\n", actorA, req.SessionID)
	}

	sessions := c.ActiveSessions()
	require.Equal(t, 1, len(sessions))
	assert.Equal(t, StatusPending, sessions[0].Status)
	assert.Equal(t, actorB, sessions[0].Peer)
	assert.Equal(t, uint64(req.Size()), sessions[0].BytesSent)
	assert.Equal(t, uint64(1), c.Statistics().TotalSessions)

	// The session owns its clocks.
	vc.Advance(actorA)
	s, found := c.Session(req.SessionID)
	require.True(t, found)
	assert.Equal(t, uint64(3), s.InitialClock.Get(actorA))
}

// TestSyncRoundTrip executes a black-box test on a
// request answered by a replica and the response
// being accounted on the initiator.
func TestSyncRoundTrip(t *testing.T) {

	a := crdt.NewReplica(actorA)
	b := crdt.NewReplica(actorB)

	for i, c := range "sync" {
		_, err := b.Insert(i, c)
		require.Nil(t, err)
	}

	initiator := InitCoordinator(actorA)
	responder := InitCoordinator(actorB)

	req := initiator.StartSync(actorB, a.VectorClock())

	resp, err := responder.HandleSyncRequest(req, b)
	require.Nil(t, err)
	assert.Equal(t, actorB, resp.From)
	assert.Equal(t, actorA, resp.To)
	assert.Equal(t, req.SessionID, resp.SessionID)
	assert.Equal(t, b.VectorClock(), resp.Clock)

	// The responder remembers what the requester had.
	meta, found := responder.PeerMetadata(actorA)
	require.True(t, found)
	assert.Equal(t, req.SessionID, meta.SessionID)
	assert.Equal(t, req.Clock, meta.LastClock)

	require.Nil(t, initiator.HandleSyncResponse(resp))

	s, found := initiator.Session(req.SessionID)
	require.True(t, found)
	assert.Equal(t, StatusReceiving, s.Status)
	assert.Equal(t, uint64(resp.Size()), s.BytesReceived)
	assert.Equal(t, uint64(4), s.CurrentClock.Get(actorB))

	_, err = a.ApplyDelta(resp.Delta)
	require.Nil(t, err)
	assert.Equal(t, "sync", a.Text())

	require.Nil(t, initiator.CompleteSync(req.SessionID))
	assert.Empty(t, initiator.ActiveSessions())

	stats := initiator.Statistics()
	assert.Equal(t, uint64(1), stats.SuccessfulSyncs)
	assert.Equal(t, uint64(resp.Size()), stats.TotalBytesReceived)

	err = initiator.HandleSyncResponse(resp)
	assert.Equal(t, ErrUnknownSession, errors.Cause(err))
	err = initiator.CompleteSync(req.SessionID)
	assert.Equal(t, ErrUnknownSession, errors.Cause(err))
}

// failingProvider never produces a delta.
type failingProvider struct{}

func (p failingProvider) DeltaSince(vc clock.VectorClock) (*crdt.Delta, error) {
	return nil, errors.New("disk on fire")
}

func (p failingProvider) VectorClock() clock.VectorClock {
	return clock.NewVectorClock()
}

// TestHandleSyncRequestFailure executes a white-box
// unit test on a failing delta provider.
func TestHandleSyncRequestFailure(t *testing.T) {

	c := InitCoordinator(actorB)

	_, err := c.HandleSyncRequest(&SyncRequest{From: actorA, To: actorB, SessionID: "s"}, failingProvider{})
	assert.NotNil(t, err)

	_, found := c.PeerMetadata(actorA)
	assert.False(t, found)
}

// TestNeedsSync executes a white-box unit test
// on implemented NeedsSync() function.
func TestNeedsSync(t *testing.T) {

	c := InitCoordinator(actorA)
	vc := clock.VectorClock{actorA: 2, actorB: 1}

	if !c.NeedsSync(actorB, vc) {
		t.Fatalf("[comm.TestNeedsSync] Expected sync to be needed before any recorded sync\n")
	}

	c.RecordSync(actorB, "s1", vc)

	if c.NeedsSync(actorB, vc) {
		t.Fatalf("[comm.TestNeedsSync] Expected no sync to be needed with unchanged clock\n")
	}

	// Peer knows more than we do: nothing new here.
	assert.False(t, c.NeedsSync(actorB, clock.VectorClock{actorA: 1, actorB: 1}))

	// A local change or a concurrent clock needs a sync.
	assert.True(t, c.NeedsSync(actorB, clock.VectorClock{actorA: 3, actorB: 1}))
	assert.True(t, c.NeedsSync(actorB, clock.VectorClock{actorA: 1, actorC: 1}))

	// Other peers are unaffected.
	assert.True(t, c.NeedsSync(actorC, vc))
}

// TestStatisticsAverage executes a white-box unit
// test on the running average of sync durations.
func TestStatisticsAverage(t *testing.T) {

	fc := newFakeClock()
	c := InitCoordinatorWithClock(actorA, fc.Now)

	r1 := c.StartSync(actorB, clock.NewVectorClock())
	fc.Advance(100 * time.Millisecond)
	require.Nil(t, c.CompleteSync(r1.SessionID))

	assert.Equal(t, 100*time.Millisecond, c.Statistics().AvgSyncDuration)

	r2 := c.StartSync(actorB, clock.NewVectorClock())
	fc.Advance(300 * time.Millisecond)
	require.Nil(t, c.FailSync(r2.SessionID, errors.New("peer gone")))

	stats := c.Statistics()
	assert.Equal(t, 200*time.Millisecond, stats.AvgSyncDuration)
	assert.Equal(t, uint64(1), stats.SuccessfulSyncs)
	assert.Equal(t, uint64(1), stats.FailedSyncs)
	assert.Equal(t, uint64(2), stats.TotalSessions)

	r3 := c.StartSync(actorC, clock.NewVectorClock())
	fc.Advance(50 * time.Millisecond)
	require.Nil(t, c.CompleteSync(r3.SessionID))

	// (200 * 2 + 50) / 3 = 150
	assert.Equal(t, 150*time.Millisecond, c.Statistics().AvgSyncDuration)
	assert.Equal(t, uint64(r1.Size()+r2.Size()+r3.Size()), c.Statistics().TotalBytesSent)
}

// TestMarkSending executes a white-box unit test
// on implemented MarkSending() function.
func TestMarkSending(t *testing.T) {

	c := InitCoordinator(actorA)
	req := c.StartSync(actorB, clock.NewVectorClock())

	require.Nil(t, c.MarkSending(req.SessionID, 1000))

	s, found := c.Session(req.SessionID)
	require.True(t, found)
	assert.Equal(t, StatusSending, s.Status)
	assert.Equal(t, uint64(req.Size()+1000), s.BytesSent)

	err := c.MarkSending("nope", 1)
	assert.Equal(t, ErrUnknownSession, errors.Cause(err))
}

// TestCleanupExpiredSessions executes a white-box unit
// test on implemented CleanupExpiredSessions() function.
func TestCleanupExpiredSessions(t *testing.T) {

	fc := newFakeClock()
	c := InitCoordinatorWithClock(actorA, fc.Now)

	old := c.StartSync(actorB, clock.NewVectorClock())
	fc.Advance(20 * time.Second)
	fresh := c.StartSync(actorC, clock.NewVectorClock())
	fc.Advance(15 * time.Second)

	expired := c.CleanupExpiredSessions(30 * time.Second)
	assert.Equal(t, []string{old.SessionID}, expired)

	_, found := c.Session(fresh.SessionID)
	assert.True(t, found)

	// The expired session counts with the time it was open.
	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.FailedSyncs)
	assert.Equal(t, 35*time.Second, stats.AvgSyncDuration)
	assert.Equal(t, uint64(old.Size()), stats.TotalBytesSent)

	// A later session averages with it, not with a gap.
	r := c.StartSync(actorB, clock.NewVectorClock())
	fc.Advance(5 * time.Second)
	require.Nil(t, c.CompleteSync(r.SessionID))
	assert.Equal(t, 20*time.Second, c.Statistics().AvgSyncDuration)

	// Activity keeps a session alive.
	require.Nil(t, c.MarkSending(fresh.SessionID, 10))
	fc.Advance(29 * time.Second)
	assert.Empty(t, c.CleanupExpiredSessions(30*time.Second))
}

// TestRunExpiry executes a black-box test on the
// timer-driven expiry of sessions.
func TestRunExpiry(t *testing.T) {

	fc := newFakeClock()
	c := InitCoordinatorWithClock(actorA, fc.Now)

	req := c.StartSync(actorB, clock.NewVectorClock())
	fc.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	expiredC := make(chan []string, 1)

	done := make(chan struct{})
	go func() {
		c.RunExpiry(ctx, 5*time.Millisecond, 30*time.Second, func(ids []string) {
			expiredC <- ids
		})
		close(done)
	}()

	select {
	case ids := <-expiredC:
		assert.Equal(t, []string{req.SessionID}, ids)
	case <-time.After(5 * time.Second):
		t.Fatalf("[comm.TestRunExpiry] Expected expired session to be swept\n")
	}

	cancel()
	<-done

	assert.Empty(t, c.ActiveSessions())
	assert.Equal(t, uint64(1), c.Statistics().FailedSyncs)
}
