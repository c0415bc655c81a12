package scheduler

import (
	"fmt"
	"time"
)

// Config defines configuration for the polling loop
type Config struct {
	// How often pushes are polled; the job refresh runs on the same tick
	PollInterval time.Duration `toml:"poll_interval"`

	// Upper bound for one poll, so a hung request cannot hold the loop
	// past the next tick
	PollTimeout time.Duration `toml:"poll_timeout"`
}

// DefaultConfig returns the dashboard polling defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 60 * time.Second,
		PollTimeout:  55 * time.Second,
	}
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be positive, got %v", config.PollInterval)
	}

	if config.PollTimeout <= 0 {
		return fmt.Errorf("PollTimeout must be positive, got %v", config.PollTimeout)
	}

	if config.PollTimeout > config.PollInterval {
		return fmt.Errorf("PollTimeout (%v) must not exceed PollInterval (%v)",
			config.PollTimeout, config.PollInterval)
	}

	return nil
}
