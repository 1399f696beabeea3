// Package config loads service configuration from the environment.
package config

import (
	"github.com/caarlos0/env/v11"
)

// Config controls the HTTP listener, storage backend, relying-party
// branding, audit trail, and tracing. Defaults let the service run
// locally with the in-memory store and no brokers.
type Config struct {
	Addr          string   `env:"PASSKEYGATE_ADDR"           envDefault:":8080"`
	RedisAddr     string   `env:"PASSKEYGATE_REDIS_ADDR"`
	RedisPassword string   `env:"PASSKEYGATE_REDIS_PASSWORD"`
	RedisDB       int      `env:"PASSKEYGATE_REDIS_DB"       envDefault:"0"`
	RPName        string   `env:"PASSKEYGATE_RP_NAME"        envDefault:"Passkey Gate"`
	KafkaBrokers  []string `env:"PASSKEYGATE_KAFKA_BROKERS"  envSeparator:","`
	KafkaTopic    string   `env:"PASSKEYGATE_KAFKA_TOPIC"    envDefault:"passkey-audit"`
	Tracing       bool     `env:"PASSKEYGATE_TRACING"        envDefault:"false"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
