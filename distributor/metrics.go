package distributor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/numbleroot/strand/crdt"
)

type metricsBroadcaster struct {
	broadcaster Broadcaster
	published   metrics.Counter
	failed      metrics.Counter
}

// NewMetricsBroadcaster wraps b and counts
// published and failed operations.
func NewMetricsBroadcaster(b Broadcaster, published metrics.Counter, failed metrics.Counter) Broadcaster {
	return &metricsBroadcaster{
		broadcaster: b,
		published:   published,
		failed:      failed,
	}
}

func (b *metricsBroadcaster) Broadcast(op crdt.Operation) error {

	err := b.broadcaster.Broadcast(op)

	if err != nil {
		b.failed.Add(1)
	} else {
		b.published.Add(1)
	}

	return err
}

func (b *metricsBroadcaster) Close() error {
	return b.broadcaster.Close()
}
