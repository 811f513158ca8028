package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStrandMetrics(t *testing.T) {

	metrics := NewStrandMetrics("")
	assert.NotNil(t, metrics.Node.Syncs)
	assert.NotNil(t, metrics.Broadcast.Published)

	metrics = NewStrandMetrics(":9099")
	assert.NotNil(t, metrics.Node.Syncs)
	assert.NotNil(t, metrics.Broadcast.Published)

	// Labeled counters accept their label.
	metrics.Node.LocalOps.With("kind", "insert").Add(1)
	metrics.Node.RemoteOps.With("source", "push").Add(1)
}
