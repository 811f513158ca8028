package config_test

import (
	"testing"
	"time"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestLoadConfig executes a black-box test on the
// implemented functionalities to load a TOML config file.
func TestLoadConfig(t *testing.T) {

	// Try to load a broken config file. This should fail.
	_, err := config.LoadConfig("testdata/broken-config.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading broken-config.toml but received 'nil' error.")
	}

	// Now load a valid config.
	conf, err := config.LoadConfig("testdata/config.toml")
	if err != nil {
		t.Fatalf("[config.TestLoadConfig] Expected success while loading config.toml but received: '%s'\n", err.Error())
	}

	if conf.Replica.DataPath != "/very/complicated/test/directory/strand.db" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "/very/complicated/test/directory/strand.db", conf.Replica.DataPath)
	}

	assert.Equal(t, "127.0.0.1:9100", conf.PrometheusAddr)
	assert.Equal(t, 64, conf.Replica.HistorySize)
	assert.Equal(t, 2*time.Second, conf.Sync.BaseInterval.Duration)
	assert.Equal(t, 90*time.Second, conf.Sync.SessionTimeout.Duration)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, conf.Kafka.Brokers)

	// Values left out fall back to defaults.
	assert.Equal(t, uint64(config.DefaultBandwidthBps), conf.Replica.BandwidthBps)
	assert.Equal(t, config.DefaultGCInterval, conf.Sync.GCInterval.Duration)
	assert.Equal(t, config.DefaultTopic, conf.Kafka.Topic)

	require.Equal(t, 2, len(conf.Peers))
	assert.Equal(t, uint8(200), conf.Peers[1].Priority)
	assert.Equal(t, "127.0.0.1:7072", conf.PeerAddrs()[clock.ActorID("20000000-a071-4227-9e63-a4b0ee84688f")])

	require.Nil(t, conf.Validate())
}

// TestValidate executes a black-box test on
// rejecting configurations that can not run.
func TestValidate(t *testing.T) {

	conf, err := config.LoadConfig("testdata/config.toml")
	require.Nil(t, err)

	conf.Peers = append(conf.Peers, conf.Peers[0])
	assert.NotNil(t, conf.Validate(), "duplicate peer")

	conf.Peers = []config.Peer{{Actor: conf.Replica.Actor, Addr: "x"}}
	assert.NotNil(t, conf.Validate(), "self as peer")

	conf.Peers = nil
	require.Nil(t, conf.Validate())

	conf.Replica.Actor = "not-a-uuid"
	assert.NotNil(t, conf.Validate(), "malformed actor")
}

// TestLoadEnv executes a black-box test on the
// implemented functionalities to load a .env file.
func TestLoadEnv(t *testing.T) {

	_, err := config.LoadEnv("testdata/missing.env")
	assert.NotNil(t, err)

	t.Setenv("STRAND_LISTEN", "0.0.0.0:7000")

	env, err := config.LoadEnv("testdata/test.env")
	require.Nil(t, err)

	if env.Actor != "40000000-a071-4227-9e63-a4b0ee84688f" {
		t.Fatalf("[config.TestLoadEnv] Expected '%s' but received '%s'\n", "40000000-a071-4227-9e63-a4b0ee84688f", env.Actor)
	}

	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, env.Brokers)

	conf, err := config.LoadConfig("testdata/config.toml")
	require.Nil(t, err)

	env.Apply(conf)
	assert.Equal(t, env.Actor, conf.Replica.Actor)
	assert.Equal(t, "0.0.0.0:7000", conf.Replica.Listen)
	assert.Equal(t, env.Brokers, conf.Kafka.Brokers)
}
