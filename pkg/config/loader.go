// Package config parses service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct using `env`
// tags:
//
//	type Config struct {
//	    Port     int    `env:"USER_HTTP_PORT" envDefault:"8006"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
//
// Services wrap this with their own validation (see internal/config).
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
