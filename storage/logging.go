package storage

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
)

// Structs

type loggingStore struct {
	logger log.Logger
	store  Store
}

// Functions

// NewLoggingStore wraps a provided existing
// store with the provided logger.
func NewLoggingStore(s Store, logger log.Logger) Store {

	return &loggingStore{
		logger: logger,
		store:  s,
	}
}

// Save wraps this store's Save method
// with added logging capabilities.
func (s *loggingStore) Save(snap *crdt.Snapshot) error {

	defer func(begin time.Time) {
		level.Debug(s.logger).Log(
			"method", "Save",
			"nodes", len(snap.Nodes),
			"took", time.Since(begin),
		)
	}(time.Now())

	err := s.store.Save(snap)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to save snapshot", "err", err)
	}

	return err
}

// Load wraps this store's Load method
// with added logging capabilities.
func (s *loggingStore) Load(actor clock.ActorID) (*crdt.Snapshot, error) {

	snap, err := s.store.Load(actor)

	logger := log.With(s.logger, "method", "Load", "actor", actor)

	if err != nil {
		level.Info(logger).Log("msg", "no snapshot loaded", "err", err)
	} else {
		level.Debug(logger).Log("nodes", len(snap.Nodes))
	}

	return snap, err
}

// Close wraps this store's Close method
// with added logging capabilities.
func (s *loggingStore) Close() error {

	err := s.store.Close()
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to close snapshot store", "err", err)
	}

	return err
}
