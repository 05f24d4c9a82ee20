// Package config loads sessiongc settings from SESSION_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config selects a session backend and how to sweep it
type Config struct {
	Backend     string        `env:"SESSION_BACKEND" envDefault:"sqlite"`
	MaxLifetime time.Duration `env:"SESSION_MAX_LIFETIME" envDefault:"24m"`
	Interval    time.Duration `env:"SESSION_INTERVAL"`
	LogLevel    string        `env:"SESSION_LOG_LEVEL" envDefault:"info"`

	DSN   string `env:"SESSION_DSN" envDefault:"sessions.db"`
	Table string `env:"SESSION_TABLE" envDefault:"session_data"`

	MongoURI        string `env:"SESSION_MONGO_URI" envDefault:"mongodb://127.0.0.1:27017"`
	MongoDatabase   string `env:"SESSION_MONGO_DATABASE" envDefault:"sessions"`
	MongoCollection string `env:"SESSION_MONGO_COLLECTION" envDefault:"session_data"`

	MemcacheServers []string `env:"SESSION_MEMCACHE_SERVERS" envSeparator:"," envDefault:"127.0.0.1:11211"`

	AerospikeHost      string `env:"SESSION_AEROSPIKE_HOST" envDefault:"127.0.0.1"`
	AerospikePort      int    `env:"SESSION_AEROSPIKE_PORT" envDefault:"3000"`
	AerospikeNamespace string `env:"SESSION_AEROSPIKE_NAMESPACE" envDefault:"test"`
	AerospikeSet       string `env:"SESSION_AEROSPIKE_SET" envDefault:"session"`

	Prefix string `env:"SESSION_PREFIX"`
}

// Load parses and validates Config from the environment
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects settings no backend can run with. MaxLifetime is also the
// read lifetime handed to the stores, so it must be positive.
func (c Config) Validate() error {
	switch {
	case c.MaxLifetime <= 0:
		return fmt.Errorf("SESSION_MAX_LIFETIME must be positive, got %s", c.MaxLifetime)
	case c.Interval < 0:
		return fmt.Errorf("SESSION_INTERVAL must not be negative, got %s", c.Interval)
	}

	return nil
}
