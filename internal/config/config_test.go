package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Backend defaults
	if cfg.Backend.DefaultRepo != "autoland" {
		t.Errorf("expected default repo autoland, got %s", cfg.Backend.DefaultRepo)
	}
	if cfg.Pushes.DefaultCount != 10 {
		t.Errorf("expected default_count 10, got %d", cfg.Pushes.DefaultCount)
	}

	// Scheduler defaults
	if cfg.Scheduler.PollInterval != 60*time.Second {
		t.Errorf("expected poll_interval 60s, got %v", cfg.Scheduler.PollInterval)
	}

	// Selection defaults
	if cfg.Selection.Debounce != 200*time.Millisecond {
		t.Errorf("expected debounce 200ms, got %v", cfg.Selection.Debounce)
	}

	// Cache defaults
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled by default")
	}
	if cfg.Cache.Database.DSN != "treeherd.db" {
		t.Errorf("expected DSN treeherd.db, got %s", cfg.Cache.Database.DSN)
	}

	// HTTP defaults
	if !cfg.HTTP.Enabled {
		t.Error("expected HTTP enabled by default")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.HTTP.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[backend]
url = "https://treeherder.example"
default_repo = "try"

[scheduler]
poll_interval = "2m"
poll_timeout = "90s"

[selection]
debounce = "50ms"

[cache]
enabled = true

[cache.database]
dsn = "/tmp/cache.db"

[cache.syncer]
flush_interval = "1s"

[http]
enabled = false
port = 9000
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Check overridden values
	if cfg.Backend.URL != "https://treeherder.example" {
		t.Errorf("expected backend url override, got %s", cfg.Backend.URL)
	}
	if cfg.Scheduler.PollInterval != 2*time.Minute {
		t.Errorf("expected poll_interval 2m, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.PollTimeout != 90*time.Second {
		t.Errorf("expected poll_timeout 90s, got %v", cfg.Scheduler.PollTimeout)
	}
	if cfg.Selection.Debounce != 50*time.Millisecond {
		t.Errorf("expected debounce 50ms, got %v", cfg.Selection.Debounce)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Database.DSN != "/tmp/cache.db" {
		t.Errorf("expected cache enabled at /tmp/cache.db, got %v %s", cfg.Cache.Enabled, cfg.Cache.Database.DSN)
	}
	if cfg.Cache.Syncer.FlushInterval != time.Second {
		t.Errorf("expected flush_interval 1s, got %v", cfg.Cache.Syncer.FlushInterval)
	}
	if cfg.HTTP.Enabled {
		t.Error("expected HTTP disabled")
	}

	// Check default values still present
	if cfg.Cache.Database.MaxOpenConns != 4 {
		t.Errorf("expected max_open_conns default 4, got %d", cfg.Cache.Database.MaxOpenConns)
	}
	if cfg.Cache.Syncer.ChannelSize != 64 {
		t.Errorf("expected channel_size default 64, got %d", cfg.Cache.Syncer.ChannelSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to be valid, got %v", err)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[scheduler\npoll_interval ="), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error for empty config path, got %v", err)
	}

	// Should return defaults
	if cfg.Backend.URL != "https://treeherder.mozilla.org" {
		t.Errorf("expected default backend url, got %s", cfg.Backend.URL)
	}
}

func TestValidate_Success(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := map[string]func(*Config){
		"empty backend url":      func(c *Config) { c.Backend.URL = "" },
		"relative backend url":   func(c *Config) { c.Backend.URL = "treeherder" },
		"empty default repo":     func(c *Config) { c.Backend.DefaultRepo = "" },
		"zero request timeout":   func(c *Config) { c.Backend.RequestTimeout = 0 },
		"zero default count":     func(c *Config) { c.Pushes.DefaultCount = 0 },
		"max below default":      func(c *Config) { c.Pushes.MaxFetchSize = 5 },
		"zero poll interval":     func(c *Config) { c.Scheduler.PollInterval = 0 },
		"timeout above interval": func(c *Config) { c.Scheduler.PollTimeout = 2 * time.Minute },
		"negative debounce":      func(c *Config) { c.Selection.Debounce = -time.Second },
		"zero inbox buffer":      func(c *Config) { c.Inbox.BufferSize = 0 },
		"invalid HTTP port":      func(c *Config) { c.HTTP.Port = 99999 },
		"metrics on HTTP port":   func(c *Config) { c.Metrics.Port = c.HTTP.Port },
		"invalid log level":      func(c *Config) { c.Logging.Level = "invalid" },
		"invalid log format":     func(c *Config) { c.Logging.Format = "xml" },
		"cache without dsn": func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.Database.DSN = ""
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_CacheDisabledSkipsCacheChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Database.DSN = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected disabled cache to be ignored, got %v", err)
	}
}

func TestRepositoryConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.DefaultRepo = "try"
	cfg.Pushes.DefaultCount = 20
	cfg.Pushes.JobConcurrency = 8

	repo := cfg.RepositoryConfig()
	if repo.DefaultRepo != "try" || repo.DefaultCount != 20 || repo.JobConcurrency != 8 {
		t.Errorf("unexpected repository config: %+v", repo)
	}
	if repo.UpdateBuffer != 256 {
		t.Errorf("expected update buffer default 256, got %d", repo.UpdateBuffer)
	}
}

func TestBugsConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bugs.RequestsPerSecond = 1

	bugs := cfg.BugsConfig()
	if bugs.TrackerURL != "https://bugzilla.mozilla.org" {
		t.Errorf("expected tracker url, got %s", bugs.TrackerURL)
	}
	if bugs.RequestsPerSec != 1 {
		t.Errorf("expected 1 request per second, got %v", bugs.RequestsPerSec)
	}
}
