package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/numbleroot/strand/node"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StrandMetrics holds everything a strand
// daemon reports to prometheus.
type StrandMetrics struct {
	Node      node.Metrics
	Broadcast *BroadcastMetrics
}

// BroadcastMetrics counts operations put
// on the Kafka broadcast bus.
type BroadcastMetrics struct {
	Published metrics.Counter
	Failed    metrics.Counter
}

// NewStrandMetrics returns prometheus backed metrics
// if addr is set and discarding ones otherwise.
func NewStrandMetrics(addr string) *StrandMetrics {

	if addr == "" {

		return &StrandMetrics{
			Node: node.Metrics{
				LocalOps:       discard.NewCounter(),
				RemoteOps:      discard.NewCounter(),
				Syncs:          discard.NewCounter(),
				FailedSyncs:    discard.NewCounter(),
				CollectedNodes: discard.NewCounter(),
				SyncDuration:   discard.NewHistogram(),
			},
			Broadcast: &BroadcastMetrics{
				Published: discard.NewCounter(),
				Failed:    discard.NewCounter(),
			},
		}
	}

	return &StrandMetrics{
		Node: node.Metrics{
			LocalOps: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "replica",
				Name:      "local_operations_total",
				Help:      "Number of operations made on this replica",
			}, []string{"kind"}),
			RemoteOps: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "replica",
				Name:      "remote_operations_total",
				Help:      "Number of operations of other replicas applied outside of pulls",
			}, []string{"source"}),
			Syncs: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "sync",
				Name:      "completed_total",
				Help:      "Number of completed syncs",
			}, nil),
			FailedSyncs: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "sync",
				Name:      "failed_total",
				Help:      "Number of failed syncs",
			}, nil),
			CollectedNodes: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "replica",
				Name:      "collected_tombstones_total",
				Help:      "Number of tombstones removed by garbage collection",
			}, nil),
			SyncDuration: prometheus.NewHistogramFrom(prom.HistogramOpts{
				Namespace: "strand",
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Duration of syncs started by this replica",
				Buckets:   prom.DefBuckets,
			}, nil),
		},
		Broadcast: &BroadcastMetrics{
			Published: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "broadcast",
				Name:      "published_total",
				Help:      "Number of operations published",
			}, nil),
			Failed: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "strand",
				Subsystem: "broadcast",
				Name:      "failed_total",
				Help:      "Number of operations that could not be published",
			}, nil),
		},
	}
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
