package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application, loaded from the
// environment (a local .env file is honored in development).
type Config struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL       string        `envconfig:"REDIS_URL" required:"true"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
	NumWorkers     int           `envconfig:"NUM_WORKERS" default:"10"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize int           `envconfig:"SWEEP_BATCH_SIZE" default:"50"`
}

// Production reports whether endpoint validation failures should block
// subscription registration.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &cfg, nil
}
