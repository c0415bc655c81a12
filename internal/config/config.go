package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/treeherd/internal/bugs"
	"github.com/livinlefevreloca/treeherd/internal/db"
	"github.com/livinlefevreloca/treeherd/internal/pushes"
	"github.com/livinlefevreloca/treeherd/internal/scheduler"
	"github.com/livinlefevreloca/treeherd/internal/selection"
	"github.com/livinlefevreloca/treeherd/internal/syncer"
	"github.com/livinlefevreloca/treeherd/internal/urlparams"
)

// Config represents the application configuration
type Config struct {
	Backend   BackendConfig    `toml:"backend"`
	Pushes    PushesConfig     `toml:"pushes"`
	Scheduler scheduler.Config `toml:"scheduler"`
	Selection SelectionConfig  `toml:"selection"`
	Bugs      BugsConfig       `toml:"bugs"`
	Inbox     InboxConfig      `toml:"inbox"`
	Cache     CacheConfig      `toml:"cache"`
	HTTP      HTTPConfig       `toml:"http"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Logging   LoggingConfig    `toml:"logging"`
}

// BackendConfig holds the Treeherder backend settings
type BackendConfig struct {
	URL            string        `toml:"url"`
	BugTrackerURL  string        `toml:"bug_tracker_url"`
	DefaultRepo    string        `toml:"default_repo"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	JobPageSize    int           `toml:"job_page_size"`
}

// PushesConfig holds push and job fetch settings
type PushesConfig struct {
	DefaultCount     int           `toml:"default_count"`
	MaxFetchSize     int           `toml:"max_fetch_size"`
	JobWatermarkSkew time.Duration `toml:"job_watermark_skew"`
	JobBatchSize     int           `toml:"job_batch_size"`
	JobConcurrency   int           `toml:"job_concurrency"`
}

// SelectionConfig holds job selection settings
type SelectionConfig struct {
	Debounce time.Duration `toml:"debounce"`
	LinkBase string        `toml:"link_base"`
}

// BugsConfig holds bug summary prefetch settings
type BugsConfig struct {
	Enabled           bool          `toml:"enabled"`
	BatchSize         int           `toml:"batch_size"`
	MaxConcurrency    int           `toml:"max_concurrency"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	CacheTTL          time.Duration `toml:"cache_ttl"`
}

// InboxConfig holds the session inbox settings
type InboxConfig struct {
	BufferSize  int           `toml:"buffer_size"`
	SendTimeout time.Duration `toml:"send_timeout"`
}

// CacheConfig holds the optional push/job cache settings
type CacheConfig struct {
	Enabled      bool          `toml:"enabled"`
	WarmStart    bool          `toml:"warm_start"`
	RetainPushes int           `toml:"retain_pushes"`
	Database     db.Config     `toml:"database"`
	Syncer       syncer.Config `toml:"syncer"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	repo := pushes.DefaultConfig()
	bugDefaults := bugs.DefaultConfig("")
	return &Config{
		Backend: BackendConfig{
			URL:            "https://treeherder.mozilla.org",
			BugTrackerURL:  "https://bugzilla.mozilla.org",
			DefaultRepo:    urlparams.DefaultRepo,
			RequestTimeout: 30 * time.Second,
			JobPageSize:    2000,
		},
		Pushes: PushesConfig{
			DefaultCount:     repo.DefaultCount,
			MaxFetchSize:     repo.MaxFetchSize,
			JobWatermarkSkew: repo.WatermarkSkew,
			JobBatchSize:     repo.JobBatchSize,
			JobConcurrency:   repo.JobConcurrency,
		},
		Scheduler: scheduler.DefaultConfig(),
		Selection: SelectionConfig{
			Debounce: selection.DefaultConfig().Debounce,
			LinkBase: "https://treeherder.mozilla.org",
		},
		Bugs: BugsConfig{
			Enabled:           true,
			BatchSize:         bugDefaults.BatchSize,
			MaxConcurrency:    bugDefaults.MaxConcurrency,
			RequestsPerSecond: bugDefaults.RequestsPerSec,
			CacheTTL:          bugDefaults.CacheTTL,
		},
		Inbox: InboxConfig{
			BufferSize:  1024,
			SendTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			WarmStart:    true,
			RetainPushes: 1000,
			Database:     db.DefaultConfig(),
			Syncer:       syncer.DefaultConfig(),
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Backend validation
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url must be specified")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url: %s", c.Backend.URL)
	}
	if c.Backend.DefaultRepo == "" {
		return fmt.Errorf("backend default_repo must be specified")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request_timeout must be positive")
	}
	if c.Backend.JobPageSize <= 0 {
		return fmt.Errorf("backend job_page_size must be positive")
	}

	// Pushes validation
	if c.Pushes.DefaultCount <= 0 {
		return fmt.Errorf("pushes default_count must be positive")
	}
	if c.Pushes.MaxFetchSize < c.Pushes.DefaultCount {
		return fmt.Errorf("pushes max_fetch_size must be at least default_count")
	}
	if c.Pushes.JobWatermarkSkew < 0 {
		return fmt.Errorf("pushes job_watermark_skew must not be negative")
	}
	if c.Pushes.JobBatchSize <= 0 {
		return fmt.Errorf("pushes job_batch_size must be positive")
	}
	if c.Pushes.JobConcurrency <= 0 {
		return fmt.Errorf("pushes job_concurrency must be positive")
	}

	// Scheduler validation
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll_interval must be positive")
	}
	if c.Scheduler.PollTimeout <= 0 || c.Scheduler.PollTimeout > c.Scheduler.PollInterval {
		return fmt.Errorf("scheduler poll_timeout must be positive and at most poll_interval")
	}

	// Selection validation
	if c.Selection.Debounce < 0 {
		return fmt.Errorf("selection debounce must not be negative")
	}

	// Inbox validation
	if c.Inbox.BufferSize <= 0 {
		return fmt.Errorf("inbox buffer_size must be positive")
	}
	if c.Inbox.SendTimeout <= 0 {
		return fmt.Errorf("inbox send_timeout must be positive")
	}

	// Cache validation
	if c.Cache.Enabled {
		if c.Cache.Database.DSN == "" {
			return fmt.Errorf("cache database dsn must be specified")
		}
		if c.Cache.RetainPushes < 0 {
			return fmt.Errorf("cache retain_pushes must not be negative")
		}
		if c.Cache.Syncer.ChannelSize <= 0 {
			return fmt.Errorf("cache syncer channel_size must be positive")
		}
		if c.Cache.Syncer.FlushInterval <= 0 {
			return fmt.Errorf("cache syncer flush_interval must be positive")
		}
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
		if c.HTTP.Enabled && c.HTTP.Address == c.Metrics.Address && c.HTTP.Port == c.Metrics.Port {
			return fmt.Errorf("metrics must listen on a different port than the HTTP API")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// RepositoryConfig returns the push repository settings
func (c *Config) RepositoryConfig() pushes.Config {
	config := pushes.DefaultConfig()
	config.DefaultRepo = c.Backend.DefaultRepo
	config.DefaultCount = c.Pushes.DefaultCount
	config.MaxFetchSize = c.Pushes.MaxFetchSize
	config.WatermarkSkew = c.Pushes.JobWatermarkSkew
	config.JobBatchSize = c.Pushes.JobBatchSize
	config.JobConcurrency = c.Pushes.JobConcurrency
	return config
}

// SelectionConfig returns the selection synchronizer settings
func (c *Config) SelectionConfig() selection.Config {
	return selection.Config{
		Debounce: c.Selection.Debounce,
		LinkBase: c.Selection.LinkBase,
	}
}

// BugsConfig returns the bug prefetcher settings
func (c *Config) BugsConfig() bugs.Config {
	config := bugs.DefaultConfig(c.Backend.BugTrackerURL)
	config.BatchSize = c.Bugs.BatchSize
	config.MaxConcurrency = c.Bugs.MaxConcurrency
	config.RequestsPerSec = c.Bugs.RequestsPerSecond
	config.CacheTTL = c.Bugs.CacheTTL
	return config
}
