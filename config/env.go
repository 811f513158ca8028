package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/numbleroot/strand/clock"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the
// system where strand is deployed. This
// enables host adaptions without needing
// to maintain two different config files.
type Env struct {
	Actor   clock.ActorID
	Listen  string
	Brokers []string
}

// Functions

// LoadEnv reads the .env file at path. Variables set
// in the process environment take precedence over
// the file.
func LoadEnv(path string) (*Env, error) {

	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in .env file at '%s'", path)
	}

	lookup := func(key string) string {

		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}

		return vals[key]
	}

	env := &Env{
		Actor:  clock.ActorID(lookup("STRAND_ACTOR")),
		Listen: lookup("STRAND_LISTEN"),
	}

	if brokers := lookup("STRAND_KAFKA_BROKERS"); brokers != "" {

		for _, b := range strings.Split(brokers, ",") {

			if b = strings.TrimSpace(b); b != "" {
				env.Brokers = append(env.Brokers, b)
			}
		}
	}

	return env, nil
}

// Apply overrides the values of c that env sets.
func (env *Env) Apply(c *Config) {

	if env.Actor != "" {
		c.Replica.Actor = env.Actor
	}

	if env.Listen != "" {
		c.Replica.Listen = env.Listen
	}

	if len(env.Brokers) > 0 {
		c.Kafka.Brokers = env.Brokers
	}
}
