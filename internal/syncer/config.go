package syncer

import (
	"fmt"
	"time"
)

// Config defines configuration for the syncer's cache write buffering
type Config struct {
	// Maximum buffered updates before Buffer starts failing
	MaxBufferedUpdates int `toml:"max_buffered_updates"`

	// Channel buffer size
	ChannelSize int `toml:"channel_size"`

	// Flushing - dual mechanism (record count OR time triggers flush)
	FlushThreshold int           `toml:"flush_threshold"`
	FlushInterval  time.Duration `toml:"flush_interval"`
}

// DefaultConfig returns syncer configuration defaults
func DefaultConfig() Config {
	return Config{
		MaxBufferedUpdates: 1000,
		ChannelSize:        64,
		FlushThreshold:     500, // records, a large job page flushes on its own
		FlushInterval:      5 * time.Second,
	}
}

// validateConfig validates syncer configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.MaxBufferedUpdates <= 0 {
		return fmt.Errorf("MaxBufferedUpdates must be positive, got %d", config.MaxBufferedUpdates)
	}

	if config.ChannelSize <= 0 {
		return fmt.Errorf("ChannelSize must be positive, got %d", config.ChannelSize)
	}

	if config.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", config.FlushThreshold)
	}

	if config.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", config.FlushInterval)
	}

	return nil
}
