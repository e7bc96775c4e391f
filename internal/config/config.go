package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	Backup     BackupConfig     `yaml:"backup"`
	Preflight  PreflightConfig  `yaml:"preflight"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures SQLite storage. The URL must use the
// sqlite:// scheme; anything else is rejected at load time.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Path returns the filesystem path of the store file.
func (d DatabaseConfig) Path() (string, error) {
	if !strings.HasPrefix(d.URL, "sqlite://") {
		return "", fmt.Errorf("unsupported database URL scheme: %s", d.URL)
	}
	return strings.TrimPrefix(d.URL, "sqlite://"), nil
}

// HackerNewsConfig configures the remote item client.
type HackerNewsConfig struct {
	BaseURL          string `yaml:"base_url"`
	TopStoriesLimit  int    `yaml:"top_stories_limit"`
	TopCommentsLimit int    `yaml:"top_comments_limit"`
	RequestTimeout   string `yaml:"request_timeout"`
}

// ParseRequestTimeout returns the per-request timeout as time.Duration.
func (h HackerNewsConfig) ParseRequestTimeout() time.Duration {
	d, err := time.ParseDuration(h.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// BackupConfig configures store file snapshots.
type BackupConfig struct {
	Dir  string `yaml:"dir"`
	Keep int    `yaml:"keep"`
}

// PreflightConfig configures the environment checks run before a refresh.
type PreflightConfig struct {
	MinFreeDiskPct float64 `yaml:"min_free_disk_pct"`
}

// ScheduleConfig configures refresh and backup intervals.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
	BackupInterval  string `yaml:"backup_interval"`
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (s ScheduleConfig) ParseRefreshInterval() time.Duration {
	d, err := time.ParseDuration(s.RefreshInterval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParseBackupInterval returns the backup interval as time.Duration.
func (s ScheduleConfig) ParseBackupInterval() time.Duration {
	d, err := time.ParseDuration(s.BackupInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "sqlite://./data/hnmirror.db"},
		HackerNews: HackerNewsConfig{
			BaseURL:          "https://hacker-news.firebaseio.com/v0",
			TopStoriesLimit:  5,
			TopCommentsLimit: 10,
			RequestTimeout:   "30s",
		},
		Backup: BackupConfig{
			Dir:  "./data/backups",
			Keep: 10,
		},
		Preflight: PreflightConfig{MinFreeDiskPct: 10},
		Schedule: ScheduleConfig{
			RefreshInterval: "30m",
			BackupInterval:  "24h",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if _, err := cfg.Database.Path(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HNMIRROR_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("HNMIRROR_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := os.Getenv("HNMIRROR_HN_BASE_URL"); v != "" {
		cfg.HackerNews.BaseURL = v
	}
	if v := os.Getenv("HNMIRROR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
