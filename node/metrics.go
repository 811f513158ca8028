package node

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/crdt"
)

// Structs

// Metrics groups what a node reports.
type Metrics struct {
	LocalOps       metrics.Counter
	RemoteOps      metrics.Counter
	Syncs          metrics.Counter
	FailedSyncs    metrics.Counter
	CollectedNodes metrics.Counter
	SyncDuration   metrics.Histogram
}

type metricsService struct {
	service Service
	metrics Metrics
}

// Functions

// NewMetricsService wraps s and reports into m.
func NewMetricsService(s Service, m Metrics) Service {
	return &metricsService{
		service: s,
		metrics: m,
	}
}

func (s *metricsService) Insert(offset int, c rune) (crdt.Operation, error) {

	op, err := s.service.Insert(offset, c)
	if err == nil {
		s.metrics.LocalOps.With("kind", "insert").Add(1)
	}

	return op, err
}

func (s *metricsService) Delete(offset int) (crdt.Operation, error) {

	op, err := s.service.Delete(offset)
	if err == nil {
		s.metrics.LocalOps.With("kind", "delete").Add(1)
	}

	return op, err
}

func (s *metricsService) Text() string {
	return s.service.Text()
}

func (s *metricsService) SyncWith(ctx context.Context, peer clock.ActorID) error {

	defer func(begin time.Time) {
		s.metrics.SyncDuration.Observe(time.Since(begin).Seconds())
	}(time.Now())

	err := s.service.SyncWith(ctx, peer)

	if err != nil {
		s.metrics.FailedSyncs.Add(1)
	} else {
		s.metrics.Syncs.Add(1)
	}

	return err
}

// SyncDue syncs through the wrapped service. Its
// syncs bypass SyncWith of this wrapper, so they
// are counted here.
func (s *metricsService) SyncDue(ctx context.Context) (int, error) {

	before := s.service.Statistics()
	synced, err := s.service.SyncDue(ctx)
	after := s.service.Statistics()

	s.metrics.Syncs.Add(float64(synced))
	if after.FailedSyncs > before.FailedSyncs {
		s.metrics.FailedSyncs.Add(float64(after.FailedSyncs - before.FailedSyncs))
	}

	return synced, err
}

func (s *metricsService) HandleSyncRequest(ctx context.Context, req *comm.SyncRequest) (*comm.SyncResponse, error) {
	return s.service.HandleSyncRequest(ctx, req)
}

func (s *metricsService) HandlePush(ctx context.Context, msg *comm.SyncResponse) (*comm.PushReply, error) {

	reply, err := s.service.HandlePush(ctx, msg)
	if err == nil {

		if applied := msg.Delta.Len() - reply.Skipped; applied > 0 {
			s.metrics.RemoteOps.With("source", "push").Add(float64(applied))
		}
	}

	return reply, err
}

func (s *metricsService) ApplyBroadcast(op crdt.Operation) error {

	err := s.service.ApplyBroadcast(op)
	if err == nil {
		s.metrics.RemoteOps.With("source", "broadcast").Add(1)
	}

	return err
}

func (s *metricsService) Persist() error {
	return s.service.Persist()
}

func (s *metricsService) CollectGarbage() int {

	removed := s.service.CollectGarbage()
	s.metrics.CollectedNodes.Add(float64(removed))

	return removed
}

func (s *metricsService) Statistics() comm.SyncStatistics {
	return s.service.Statistics()
}
