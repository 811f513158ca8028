package distributor

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/crdt"
)

type loggingBroadcaster struct {
	logger      log.Logger
	broadcaster Broadcaster
}

// NewLoggingBroadcaster wraps a provided existing
// broadcaster with the provided logger.
func NewLoggingBroadcaster(b Broadcaster, logger log.Logger) Broadcaster {
	return &loggingBroadcaster{logger, b}
}

// Broadcast wraps this broadcaster's Broadcast
// method with added logging capabilities.
func (b *loggingBroadcaster) Broadcast(op crdt.Operation) error {

	err := b.broadcaster.Broadcast(op)

	logger := log.With(b.logger,
		"method", "Broadcast",
		"author", op.Author(),
		"seq", op.Seq(),
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to broadcast operation", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// Close wraps this broadcaster's Close
// method with added logging capabilities.
func (b *loggingBroadcaster) Close() error {

	err := b.broadcaster.Close()
	if err != nil {
		level.Warn(b.logger).Log("msg", "failed to close broadcaster", "err", err)
	}

	return err
}
