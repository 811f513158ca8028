package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Variables

var (
	actorA = clock.ActorID("10000000-a071-4227-9e63-a4b0ee84688f")
	actorB = clock.ActorID("20000000-a071-4227-9e63-a4b0ee84688f")
)

// Functions

// daemonConfig returns the configuration of a
// daemon replicating with peer at peerAddr.
func daemonConfig(dir string, actor clock.ActorID, peer clock.ActorID, peerAddr string) *config.Config {

	conf := &config.Config{
		Replica: config.Replica{
			Actor:    actor,
			DataPath: filepath.Join(dir, string(actor)+".db"),
		},
		Sync: config.Sync{
			BaseInterval: config.Duration{Duration: time.Hour},
		},
		Peers: []config.Peer{
			{Actor: peer, Addr: peerAddr},
		},
	}

	conf.SetDefaults()

	return conf
}

// TestDaemons executes a black-box test on two
// daemons syncing over gRPC on localhost and
// persisting their replicas on shutdown.
func TestDaemons(t *testing.T) {

	dir := t.TempDir()

	lisA, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	lisB, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	confA := daemonConfig(dir, actorA, actorB, lisB.Addr().String())
	confB := daemonConfig(dir, actorB, actorA, lisA.Addr().String())
	require.Nil(t, confA.Validate())

	m := NewStrandMetrics("")

	a, err := initDaemon(log.NewNopLogger(), confA, m)
	require.Nil(t, err)
	b, err := initDaemon(log.NewNopLogger(), confB, m)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- a.run(ctx, lisA) }()
	go func() { doneB <- b.run(ctx, lisB) }()

	for i, c := range "over" {
		_, err := a.service.Insert(i, c)
		require.Nil(t, err)
	}

	for i, c := range "grpc" {
		_, err := b.service.Insert(i, c)
		require.Nil(t, err)
	}

	syncCtx, syncCancel := context.WithTimeout(ctx, 10*time.Second)
	defer syncCancel()

	require.Nil(t, a.service.SyncWith(syncCtx, actorB))

	if a.service.Text() != b.service.Text() {
		t.Fatalf("[main.TestDaemons] Expected replicas to agree after sync but found '%s' and '%s'\n", a.service.Text(), b.service.Text())
	}

	text := a.service.Text()
	assert.Equal(t, 8, len(text))

	cancel()
	require.Nil(t, <-doneA)
	require.Nil(t, <-doneB)

	// A restarted daemon resumes from its snapshot.
	restarted, err := initDaemon(log.NewNopLogger(), confA, m)
	require.Nil(t, err)
	assert.Equal(t, text, restarted.service.Text())

	restarted.shutdown()
}

// TestDaemonServerFailure executes a black-box test on
// a daemon whose sync server stops on its own.
func TestDaemonServerFailure(t *testing.T) {

	dir := t.TempDir()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	conf := daemonConfig(dir, actorA, actorB, "127.0.0.1:1")
	m := NewStrandMetrics("")

	d, err := initDaemon(log.NewNopLogger(), conf, m)
	require.Nil(t, err)

	_, err = d.service.Insert(0, '!')
	require.Nil(t, err)

	// Serving on a closed listener fails at once.
	require.Nil(t, lis.Close())

	done := make(chan error, 1)
	go func() { done <- d.run(context.Background(), lis) }()

	select {
	case err = <-done:
		assert.NotNil(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("[main.TestDaemonServerFailure] Expected daemon to stop after its sync server failed but it kept running")
	}

	// Shutting down persisted the replica.
	restarted, err := initDaemon(log.NewNopLogger(), conf, m)
	require.Nil(t, err)
	assert.Equal(t, "!", restarted.service.Text())

	restarted.shutdown()
}
