package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/numbleroot/strand/clock"
	"github.com/pkg/errors"
)

// Constants

// Defaults for values a config file may leave out.
const (
	DefaultListen         = "127.0.0.1:7070"
	DefaultDataPath       = "strand.db"
	DefaultHistorySize    = 1024
	DefaultBandwidthBps   = 1 << 20
	DefaultBaseInterval   = 5 * time.Second
	DefaultSessionTimeout = 30 * time.Second
	DefaultExpiryInterval = 10 * time.Second
	DefaultGCInterval     = time.Minute
	DefaultTopic          = "strand-operations"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	PrometheusAddr string `toml:"prometheus_addr"`
	Replica        Replica
	Sync           Sync
	Kafka          Kafka
	Peers          []Peer
}

// Replica describes the local replica.
type Replica struct {
	Actor        clock.ActorID `toml:"actor"`
	Listen       string        `toml:"listen"`
	DataPath     string        `toml:"data_path"`
	HistorySize  int           `toml:"history_size"`
	BandwidthBps uint64        `toml:"bandwidth_bps"`
}

// Sync holds the timing of anti-entropy, session
// expiry and garbage collection.
type Sync struct {
	BaseInterval   Duration `toml:"base_interval"`
	SessionTimeout Duration `toml:"session_timeout"`
	ExpiryInterval Duration `toml:"expiry_interval"`
	GCInterval     Duration `toml:"gc_interval"`
}

// Kafka configures the operation broadcast.
// Leaving Brokers empty disables it.
type Kafka struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Peer is another replica this one synchronizes
// with. Lower priorities are synced more often.
type Peer struct {
	Actor    clock.ActorID `toml:"actor"`
	Addr     string        `toml:"addr"`
	Priority uint8         `toml:"priority"`
}

// Duration is a time.Duration written
// as a string such as "5s" in TOML.
type Duration struct {
	time.Duration
}

// Functions

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {

	var err error
	d.Duration, err = time.ParseDuration(string(text))

	return err
}

// LoadConfig takes in the path to the main config
// file of strand in TOML syntax and places the values
// from the file in the corresponding struct. Missing
// values are set to their defaults.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	conf.SetDefaults()

	return conf, nil
}

// SetDefaults fills in every value left out.
func (c *Config) SetDefaults() {

	if c.Replica.Listen == "" {
		c.Replica.Listen = DefaultListen
	}

	if c.Replica.DataPath == "" {
		c.Replica.DataPath = DefaultDataPath
	}

	if c.Replica.HistorySize <= 0 {
		c.Replica.HistorySize = DefaultHistorySize
	}

	if c.Replica.BandwidthBps == 0 {
		c.Replica.BandwidthBps = DefaultBandwidthBps
	}

	if c.Sync.BaseInterval.Duration <= 0 {
		c.Sync.BaseInterval.Duration = DefaultBaseInterval
	}

	if c.Sync.SessionTimeout.Duration <= 0 {
		c.Sync.SessionTimeout.Duration = DefaultSessionTimeout
	}

	if c.Sync.ExpiryInterval.Duration <= 0 {
		c.Sync.ExpiryInterval.Duration = DefaultExpiryInterval
	}

	if c.Sync.GCInterval.Duration <= 0 {
		c.Sync.GCInterval.Duration = DefaultGCInterval
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultTopic
	}
}

// Validate checks that the configuration, after
// environment overrides, describes a runnable replica.
func (c *Config) Validate() error {

	_, err := clock.ParseActorID(string(c.Replica.Actor))
	if err != nil {
		return errors.Wrap(err, "replica actor")
	}

	seen := make(map[clock.ActorID]bool)

	for _, p := range c.Peers {

		_, err := clock.ParseActorID(string(p.Actor))
		if err != nil {
			return errors.Wrapf(err, "peer at '%s'", p.Addr)
		}

		if p.Actor == c.Replica.Actor {
			return errors.Errorf("replica '%s' listed as its own peer", p.Actor)
		}

		if seen[p.Actor] {
			return errors.Errorf("peer '%s' listed twice", p.Actor)
		}
		seen[p.Actor] = true

		if p.Addr == "" {
			return errors.Errorf("peer '%s' without address", p.Actor)
		}
	}

	return nil
}

// PeerAddrs maps every peer to its sync address.
func (c *Config) PeerAddrs() map[clock.ActorID]string {

	addrs := make(map[clock.ActorID]string, len(c.Peers))
	for _, p := range c.Peers {
		addrs[p.Actor] = p.Addr
	}

	return addrs
}
