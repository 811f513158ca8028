package node

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/crdt"
)

// Structs

type loggingService struct {
	logger  log.Logger
	service Service
}

// Functions

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {

	return &loggingService{
		logger:  logger,
		service: s,
	}
}

// Insert wraps this service's Insert method
// with added logging capabilities.
func (s *loggingService) Insert(offset int, c rune) (crdt.Operation, error) {

	op, err := s.service.Insert(offset, c)
	if err != nil {
		level.Info(s.logger).Log("msg", "failed to insert", "offset", offset, "err", err)
	}

	return op, err
}

// Delete wraps this service's Delete method
// with added logging capabilities.
func (s *loggingService) Delete(offset int) (crdt.Operation, error) {

	op, err := s.service.Delete(offset)
	if err != nil {
		level.Info(s.logger).Log("msg", "failed to delete", "offset", offset, "err", err)
	}

	return op, err
}

// Text wraps this service's Text method.
func (s *loggingService) Text() string {
	return s.service.Text()
}

// SyncWith wraps this service's SyncWith method
// with added logging capabilities.
func (s *loggingService) SyncWith(ctx context.Context, peer clock.ActorID) error {

	defer func(begin time.Time) {
		level.Debug(s.logger).Log("method", "SyncWith", "peer", peer, "took", time.Since(begin))
	}(time.Now())

	err := s.service.SyncWith(ctx, peer)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to sync", "peer", peer, "err", err)
	}

	return err
}

// SyncDue wraps this service's SyncDue method
// with added logging capabilities.
func (s *loggingService) SyncDue(ctx context.Context) (int, error) {

	synced, err := s.service.SyncDue(ctx)

	logger := log.With(s.logger, "method", "SyncDue", "synced", synced)

	if err != nil {
		level.Warn(logger).Log("msg", "not all due peers synced", "err", err)
	} else if synced > 0 {
		level.Debug(logger).Log()
	}

	return synced, err
}

// HandleSyncRequest wraps this service's HandleSyncRequest
// method with added logging capabilities.
func (s *loggingService) HandleSyncRequest(ctx context.Context, req *comm.SyncRequest) (*comm.SyncResponse, error) {

	resp, err := s.service.HandleSyncRequest(ctx, req)

	logger := log.With(s.logger,
		"method", "HandleSyncRequest",
		"peer", req.From,
		"session", req.SessionID,
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to answer sync request", "err", err)
	} else {
		level.Debug(logger).Log("operations", resp.Delta.Len())
	}

	return resp, err
}

// HandlePush wraps this service's HandlePush
// method with added logging capabilities.
func (s *loggingService) HandlePush(ctx context.Context, msg *comm.SyncResponse) (*comm.PushReply, error) {

	reply, err := s.service.HandlePush(ctx, msg)

	logger := log.With(s.logger,
		"method", "HandlePush",
		"peer", msg.From,
		"session", msg.SessionID,
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to apply pushed delta", "err", err)
	} else {
		level.Debug(logger).Log("skipped", reply.Skipped)
	}

	return reply, err
}

// ApplyBroadcast wraps this service's ApplyBroadcast
// method with added logging capabilities.
func (s *loggingService) ApplyBroadcast(op crdt.Operation) error {

	err := s.service.ApplyBroadcast(op)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to apply broadcast operation", "author", op.Author(), "err", err)
	}

	return err
}

// Persist wraps this service's Persist method
// with added logging capabilities.
func (s *loggingService) Persist() error {

	err := s.service.Persist()
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to persist replica", "err", err)
	}

	return err
}

// CollectGarbage wraps this service's CollectGarbage
// method with added logging capabilities.
func (s *loggingService) CollectGarbage() int {

	removed := s.service.CollectGarbage()
	if removed > 0 {
		level.Info(s.logger).Log("msg", "collected tombstones", "removed", removed)
	}

	return removed
}

// Statistics wraps this service's Statistics method.
func (s *loggingService) Statistics() comm.SyncStatistics {
	return s.service.Statistics()
}
