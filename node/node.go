package node

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/config"
	"github.com/numbleroot/strand/crdt"
	"github.com/numbleroot/strand/distributor"
	"github.com/numbleroot/strand/storage"
	"github.com/pkg/errors"
)

// Structs

// Node bundles one replica with everything it needs
// to converge with its peers: the sync coordinator,
// the delta history answering peers, the bandwidth
// budget and the schedule of anti-entropy rounds.
type Node struct {
	logger      log.Logger
	actor       clock.ActorID
	peers       []clock.ActorID
	replica     *crdt.RGA
	coord       *comm.Coordinator
	history     *comm.DeltaHistory
	provider    *deltaProvider
	limiter     *comm.BandwidthLimiter
	scheduler   *comm.AdaptiveScheduler
	transport   comm.Transport
	store       storage.Store
	broadcaster distributor.Broadcaster

	// lock orders changes to the replica and their
	// history entries against answers to peers, so that
	// no answer claims an operation its delta lacks.
	lock *sync.RWMutex

	peerLock   *sync.Mutex
	peerClocks map[clock.ActorID]clock.VectorClock
}

// Functions

// InitNode sets up the replica described by conf.
// If store holds a snapshot of the replica, the node
// resumes from it. store and broadcaster may be nil.
func InitNode(logger log.Logger, conf *config.Config, transport comm.Transport, store storage.Store, broadcaster distributor.Broadcaster) (*Node, error) {

	actor := conf.Replica.Actor
	replica := crdt.NewReplica(actor)
	base := clock.NewVectorClock()

	if store != nil {

		snap, err := store.Load(actor)
		if err == nil {

			err = replica.Restore(snap)
			if err != nil {
				return nil, errors.Wrapf(err, "restoring replica '%s' failed", actor)
			}

			base = snap.Horizon()

		} else if errors.Cause(err) != storage.ErrNotFound {
			return nil, err
		}
	}

	history := comm.InitDeltaHistory(conf.Replica.HistorySize, base)

	n := &Node{
		logger:      log.With(logger, "actor", actor),
		actor:       actor,
		peers:       make([]clock.ActorID, 0, len(conf.Peers)),
		replica:     replica,
		coord:       comm.InitCoordinator(actor),
		history:     history,
		provider:    &deltaProvider{replica: replica, history: history},
		limiter:     comm.InitBandwidthLimiter(conf.Replica.BandwidthBps),
		scheduler:   comm.InitAdaptiveScheduler(conf.Sync.BaseInterval.Duration),
		transport:   transport,
		store:       store,
		broadcaster: broadcaster,
		lock:        new(sync.RWMutex),
		peerLock:    new(sync.Mutex),
		peerClocks:  make(map[clock.ActorID]clock.VectorClock),
	}

	for _, p := range conf.Peers {
		n.peers = append(n.peers, p.Actor)
		n.scheduler.SetPeerPriority(p.Actor, p.Priority)
	}

	sort.Slice(n.peers, func(i, j int) bool {
		return n.peers[i].Less(n.peers[j])
	})

	return n, nil
}

// Actor returns the id of the local replica.
func (n *Node) Actor() clock.ActorID {
	return n.actor
}

// Replica exposes the local replica for reading.
func (n *Node) Replica() *crdt.RGA {
	return n.replica
}

// Coordinator exposes the sync coordinator, for
// example to run its session expiry.
func (n *Node) Coordinator() *comm.Coordinator {
	return n.coord
}

// Text implements Service.
func (n *Node) Text() string {
	return n.replica.Text()
}

// StateHash returns the hex encoded SHA-256
// sum of the visible document.
func (n *Node) StateHash() string {

	sum := sha256.Sum256([]byte(n.replica.Text()))

	return hex.EncodeToString(sum[:])
}

// Statistics implements Service.
func (n *Node) Statistics() comm.SyncStatistics {
	return n.coord.Statistics()
}

// Insert implements Service.
func (n *Node) Insert(offset int, c rune) (crdt.Operation, error) {

	n.lock.Lock()

	op, err := n.replica.Insert(offset, c)
	if err != nil {
		n.lock.Unlock()
		return op, err
	}

	n.record(nil, []crdt.Operation{op})
	n.lock.Unlock()

	n.broadcast(op)

	return op, nil
}

// Delete implements Service.
func (n *Node) Delete(offset int) (crdt.Operation, error) {

	n.lock.Lock()

	op, err := n.replica.Delete(offset)
	if err != nil {
		n.lock.Unlock()
		return op, err
	}

	n.record(nil, []crdt.Operation{op})
	n.lock.Unlock()

	n.broadcast(op)

	return op, nil
}

// broadcast publishes op if a broadcaster is set.
// Lost broadcasts are repaired by anti-entropy.
func (n *Node) broadcast(op crdt.Operation) {

	if n.broadcaster == nil {
		return
	}

	err := n.broadcaster.Broadcast(op)
	if err != nil {
		level.Debug(n.logger).Log("msg", "operation left to anti-entropy", "seq", op.Seq(), "err", err)
	}
}

// record adds the operations of applied that are new
// relative to pre to the delta history. A nil pre
// records all of them. The caller holds the write lock.
func (n *Node) record(pre clock.VectorClock, applied []crdt.Operation) {

	fresh := make([]crdt.Operation, 0, len(applied))
	vc := n.replica.VectorClock()

	for _, op := range applied {

		if pre != nil && op.Seq() <= pre.Get(op.Author()) {
			continue
		}

		fresh = append(fresh, op)

		if op.Seq() > vc.Get(op.Author()) {
			vc.Set(op.Author(), op.Seq())
		}
	}

	if len(fresh) == 0 {
		return
	}

	var d *crdt.Delta
	var err error

	if len(fresh) == 1 {
		d, err = crdt.OperationDelta(fresh[0])
	} else {
		d, err = crdt.BatchDelta(fresh)
	}

	if err != nil {

		// Operations that were just applied always encode.
		// Should one not, clearing the history makes every
		// later sync fall back to the replica.
		level.Error(n.logger).Log("msg", "failed to record operations", "err", err)
		n.history.Clear()

		return
	}

	n.history.Add(vc, d)
}

// applyDelta applies d and records what took effect.
// If nothing was skipped, the replica also counts
// everything vc covers as applied.
func (n *Node) applyDelta(d *crdt.Delta, vc clock.VectorClock) (int, error) {

	n.lock.Lock()
	defer n.lock.Unlock()

	pre := n.replica.VectorClock()

	applied, skipped, err := n.replica.ApplyDeltaOperations(d)
	if err != nil {
		return 0, err
	}

	n.record(pre, applied)

	if skipped == 0 && vc != nil {
		n.replica.ObserveClock(vc)
	}

	return skipped, nil
}

// responseDelta folds the extra operations resp
// carries into one delta with those of its delta.
func responseDelta(resp *comm.SyncResponse) (*crdt.Delta, error) {

	if len(resp.Operations) == 0 {
		return resp.Delta, nil
	}

	ops, err := resp.AllOperations()
	if err != nil {
		return nil, err
	}

	return crdt.BatchDelta(ops)
}

// ApplyBroadcast implements Service. Operations
// whose dependencies are still missing here are
// dropped and arrive again with the next sync.
func (n *Node) ApplyBroadcast(op crdt.Operation) error {

	if comm.ClassifyOperation(op, n.replica.VectorClock()) == comm.ConflictCausalViolation {
		level.Debug(n.logger).Log("msg", "operation arrived ahead of its predecessors", "author", op.Author(), "seq", op.Seq())
	}

	d, err := crdt.OperationDelta(op)
	if err != nil {
		return err
	}

	_, err = n.applyDelta(d, nil)

	return err
}

// isPeer reports whether peer is configured.
func (n *Node) isPeer(peer clock.ActorID) bool {

	i := sort.Search(len(n.peers), func(i int) bool {
		return !n.peers[i].Less(peer)
	})

	return i < len(n.peers) && n.peers[i] == peer
}

// notePeerClock remembers that peer has applied
// everything vc covers and updates the clock garbage
// collection may rely on.
func (n *Node) notePeerClock(peer clock.ActorID, vc clock.VectorClock) {

	if !n.isPeer(peer) || vc == nil {
		return
	}

	n.peerLock.Lock()

	known, found := n.peerClocks[peer]
	if !found {
		known = clock.NewVectorClock()
		n.peerClocks[peer] = known
	}
	known.Merge(vc)

	n.peerLock.Unlock()

	n.replica.SetStableClock(n.StableClock())
}

// StableClock returns what every replica, this one
// included, is known to have applied. It stays empty
// until a clock of each peer has been seen and while
// any peer is known to hold operations not yet applied
// here. Such operations may be inserts anchored on a
// tombstone, which therefore has to stay.
func (n *Node) StableClock() clock.VectorClock {

	n.peerLock.Lock()
	defer n.peerLock.Unlock()

	if len(n.peerClocks) < len(n.peers) {
		return clock.NewVectorClock()
	}

	local := n.replica.VectorClock()

	clocks := make([]clock.VectorClock, 0, len(n.peers)+1)
	clocks = append(clocks, local)

	for _, p := range n.peers {

		if !local.Dominates(n.peerClocks[p]) {
			return clock.NewVectorClock()
		}

		clocks = append(clocks, n.peerClocks[p])
	}

	return clock.Min(clocks...)
}

// fail marks the session failed and returns cause.
func (n *Node) fail(sessionID string, cause error) error {

	err := n.coord.FailSync(sessionID, cause)
	if err != nil {
		level.Warn(n.logger).Log("msg", "failing session failed", "session", sessionID, "err", err)
	}

	return cause
}

// SyncWith implements Service.
func (n *Node) SyncWith(ctx context.Context, peer clock.ActorID) error {

	if !n.isPeer(peer) {
		return errors.Wrapf(comm.ErrUnknownSession, "'%s' is no peer of '%s'", peer, n.actor)
	}

	req := n.coord.StartSync(peer, n.replica.VectorClock())
	req.StateHash = n.StateHash()
	sid := req.SessionID

	size := uint64(req.Size())
	if !n.limiter.CanSend(size) {
		return n.fail(sid, errors.Wrapf(comm.ErrBandwidthExceeded, "sync request of %d bytes to '%s'", size, peer))
	}
	n.limiter.RecordSent(size)

	resp, err := n.transport.Exchange(ctx, req)
	if err != nil {
		return n.fail(sid, errors.Wrapf(err, "exchange with '%s' failed", peer))
	}

	if resp.SessionID != sid {
		return n.fail(sid, errors.Wrapf(comm.ErrUnknownSession, "'%s' answered session '%s' instead of '%s'", peer, resp.SessionID, sid))
	}

	err = n.coord.HandleSyncResponse(resp)
	if err != nil {
		return n.fail(sid, err)
	}

	d, err := responseDelta(resp)
	if err != nil {
		return n.fail(sid, errors.Wrapf(err, "decoding operations of '%s' failed", peer))
	}

	skipped, err := n.applyDelta(d, resp.Clock)
	if err != nil {
		return n.fail(sid, errors.Wrapf(err, "applying delta of '%s' failed", peer))
	}

	if skipped > 0 {
		level.Info(n.logger).Log("msg", "operations of peer left for a later sync", "peer", peer, "session", sid, "skipped", skipped)
	}

	n.coord.RecordSync(peer, sid, resp.Clock)
	n.notePeerClock(peer, resp.Clock)

	err = n.push(ctx, peer, sid, resp.Clock)
	if err != nil {
		return n.fail(sid, err)
	}

	err = n.coord.CompleteSync(sid)
	if err != nil {
		return err
	}

	n.scheduler.RecordSync(peer)

	return nil
}

// push sends peer what it lacks relative to
// remote, the clock it answered the pull with.
func (n *Node) push(ctx context.Context, peer clock.ActorID, sid string, remote clock.VectorClock) error {

	n.lock.RLock()

	local := n.replica.VectorClock()
	if !n.coord.NeedsSync(peer, local) {
		n.lock.RUnlock()
		return nil
	}

	delta, err := n.provider.DeltaSince(remote)
	n.lock.RUnlock()

	if err != nil {
		return errors.Wrapf(err, "computing delta for '%s' failed", peer)
	}

	msg := &comm.SyncResponse{
		From:      n.actor,
		To:        peer,
		Delta:     delta,
		Clock:     local,
		SessionID: sid,
	}

	size := msg.Size()
	if !n.limiter.CanSend(uint64(size)) {
		level.Info(n.logger).Log("msg", "push deferred for lack of bandwidth", "peer", peer, "session", sid, "bytes", size)
		return nil
	}

	reply, err := n.transport.Push(ctx, msg)
	if err != nil {
		return errors.Wrapf(err, "push to '%s' failed", peer)
	}

	n.limiter.RecordSent(uint64(size))

	err = n.coord.MarkSending(sid, size)
	if err != nil {
		return err
	}

	if reply.Skipped > 0 {
		level.Info(n.logger).Log("msg", "peer left pushed operations for a later sync", "peer", peer, "session", sid, "skipped", reply.Skipped)
	}

	n.coord.RecordSync(peer, sid, reply.Clock)
	n.notePeerClock(peer, reply.Clock)

	return nil
}

// SyncDue implements Service.
func (n *Node) SyncDue(ctx context.Context) (int, error) {

	synced := 0
	visited := make(map[clock.ActorID]bool)
	var first error

	for {

		peer, ok := n.scheduler.NextPeerToSync()
		if !ok || visited[peer] {
			break
		}
		visited[peer] = true

		err := n.SyncWith(ctx, peer)
		if err != nil {

			// Retried after the peer's next interval.
			n.scheduler.RecordSync(peer)

			if first == nil {
				first = err
			}

			continue
		}

		synced++
	}

	return synced, first
}

// HandleSyncRequest implements comm.Handler.
func (n *Node) HandleSyncRequest(ctx context.Context, req *comm.SyncRequest) (*comm.SyncResponse, error) {

	if req.To != n.actor {
		return nil, errors.Wrapf(comm.ErrUnknownSession, "request for '%s' reached '%s'", req.To, n.actor)
	}

	n.lock.RLock()
	resp, err := n.coord.HandleSyncRequest(req, n.provider)
	n.lock.RUnlock()

	if err != nil {
		return nil, err
	}

	size := uint64(resp.Size())
	if !n.limiter.CanSend(size) {
		return nil, errors.Wrapf(comm.ErrBandwidthExceeded, "sync response of %d bytes to '%s'", size, req.From)
	}
	n.limiter.RecordSent(size)

	n.notePeerClock(req.From, req.Clock)

	return resp, nil
}

// HandlePush implements comm.Handler.
func (n *Node) HandlePush(ctx context.Context, msg *comm.SyncResponse) (*comm.PushReply, error) {

	if msg.To != n.actor {
		return nil, errors.Wrapf(comm.ErrUnknownSession, "push for '%s' reached '%s'", msg.To, n.actor)
	}

	d, err := responseDelta(msg)
	if err != nil {
		return nil, err
	}

	skipped, err := n.applyDelta(d, msg.Clock)
	if err != nil {
		return nil, err
	}

	vc := n.replica.VectorClock()

	n.coord.RecordSync(msg.From, msg.SessionID, msg.Clock)
	n.notePeerClock(msg.From, msg.Clock)

	return &comm.PushReply{
		SessionID: msg.SessionID,
		Skipped:   skipped,
		Clock:     vc,
	}, nil
}

// CollectGarbage implements Service.
func (n *Node) CollectGarbage() int {

	n.replica.SetStableClock(n.StableClock())

	return n.replica.GarbageCollect()
}

// Persist implements Service.
func (n *Node) Persist() error {

	if n.store == nil {
		return nil
	}

	return n.store.Save(n.replica.Snapshot())
}

// Close persists the replica and releases
// the store and the broadcaster.
func (n *Node) Close() error {

	err := n.Persist()

	if n.broadcaster != nil {

		if cerr := n.broadcaster.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	if n.store != nil {

		if cerr := n.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}
