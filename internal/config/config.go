// Package config loads the dripd YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LockStore  LockStoreConfig  `yaml:"lockstore"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Verifier   VerifierConfig   `yaml:"verifier"`
	Reputation ReputationConfig `yaml:"reputation"`
	Sender     SenderConfig     `yaml:"sender"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains the control API settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Hostname   string `yaml:"hostname"`
	// APIKeyHash is a bcrypt hash produced by `dripd apikey`
	APIKeyHash   string        `yaml:"api_key_hash"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig contains the SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LockStoreConfig contains the bbolt lease store settings
type LockStoreConfig struct {
	Path           string        `yaml:"path"`
	TTL            time.Duration `yaml:"ttl"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// PacingConfig contains default inter-send delay and volume settings,
// applied when a campaign carries none of its own
type PacingConfig struct {
	MinDelayMs   int           `yaml:"min_delay_ms"`
	MaxDelayMs   int           `yaml:"max_delay_ms"`
	DailyQuota   int           `yaml:"daily_quota"`
	SlotDuration time.Duration `yaml:"slot_duration"`
	MaxDeferred  time.Duration `yaml:"max_deferred"`
	WorkStart    int           `yaml:"work_start"`
	WorkEnd      int           `yaml:"work_end"`
	PeakStart    int           `yaml:"peak_start"`
	PeakEnd      int           `yaml:"peak_end"`
}

// VerifierConfig contains the email validation API settings
type VerifierConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// ReputationConfig contains the protective rate thresholds
type ReputationConfig struct {
	MaxBounceRate    float64 `yaml:"max_bounce_rate"`
	MaxComplaintRate float64 `yaml:"max_complaint_rate"`
	QueueSize        int     `yaml:"queue_size"`
}

// SenderConfig contains SMTP relay settings
type SenderConfig struct {
	// DryRun records messages instead of delivering them
	DryRun      bool          `yaml:"dry_run"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	DKIM        DKIMConfig    `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings for outbound mail
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "drip.db"
	}

	if c.LockStore.Path == "" {
		c.LockStore.Path = "locks.db"
	}
	if c.LockStore.TTL == 0 {
		c.LockStore.TTL = 2 * time.Minute
	}
	if c.LockStore.StaleThreshold == 0 {
		c.LockStore.StaleThreshold = 10 * time.Minute
	}

	if c.Pacing.MinDelayMs == 0 {
		c.Pacing.MinDelayMs = 2000
	}
	if c.Pacing.MaxDelayMs == 0 {
		c.Pacing.MaxDelayMs = 30000
	}
	if c.Pacing.SlotDuration == 0 {
		c.Pacing.SlotDuration = time.Hour
	}
	if c.Pacing.MaxDeferred == 0 {
		c.Pacing.MaxDeferred = time.Hour
	}
	if c.Pacing.WorkStart == 0 && c.Pacing.WorkEnd == 0 {
		c.Pacing.WorkStart = 8
		c.Pacing.WorkEnd = 18
		c.Pacing.PeakStart = 10
		c.Pacing.PeakEnd = 14
	}

	if c.Verifier.Timeout == 0 {
		c.Verifier.Timeout = 10 * time.Second
	}
	if c.Verifier.MaxRetries == 0 {
		c.Verifier.MaxRetries = 2
	}
	if c.Verifier.RetryBackoff == 0 {
		c.Verifier.RetryBackoff = 500 * time.Millisecond
	}
	if c.Verifier.BreakerThreshold == 0 {
		c.Verifier.BreakerThreshold = 5
	}
	if c.Verifier.BreakerReset == 0 {
		c.Verifier.BreakerReset = time.Minute
	}

	if c.Reputation.MaxBounceRate == 0 {
		c.Reputation.MaxBounceRate = 0.05
	}
	if c.Reputation.MaxComplaintRate == 0 {
		c.Reputation.MaxComplaintRate = 0.001
	}
	if c.Reputation.QueueSize == 0 {
		c.Reputation.QueueSize = 1024
	}

	if c.Sender.Port == 0 {
		c.Sender.Port = 587
	}
	if c.Sender.SendTimeout == 0 {
		c.Sender.SendTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Pacing.MinDelayMs < 0 || c.Pacing.MaxDelayMs < c.Pacing.MinDelayMs {
		return fmt.Errorf("pacing delays invalid: min=%d max=%d",
			c.Pacing.MinDelayMs, c.Pacing.MaxDelayMs)
	}
	if c.Pacing.WorkStart < 0 || c.Pacing.WorkEnd > 24 || c.Pacing.WorkEnd <= c.Pacing.WorkStart {
		return fmt.Errorf("working hours invalid: start=%d end=%d",
			c.Pacing.WorkStart, c.Pacing.WorkEnd)
	}
	if c.Pacing.PeakStart < c.Pacing.WorkStart || c.Pacing.PeakEnd > c.Pacing.WorkEnd ||
		c.Pacing.PeakEnd <= c.Pacing.PeakStart {
		return fmt.Errorf("peak hours invalid: start=%d end=%d",
			c.Pacing.PeakStart, c.Pacing.PeakEnd)
	}

	if c.Reputation.MaxBounceRate <= 0 || c.Reputation.MaxBounceRate >= 1 {
		return fmt.Errorf("max_bounce_rate must be in (0,1), got %g", c.Reputation.MaxBounceRate)
	}
	if c.Reputation.MaxComplaintRate <= 0 || c.Reputation.MaxComplaintRate >= 1 {
		return fmt.Errorf("max_complaint_rate must be in (0,1), got %g", c.Reputation.MaxComplaintRate)
	}

	if !c.Sender.DryRun && c.Sender.Host == "" {
		return fmt.Errorf("sender.host is required unless dry_run is enabled")
	}
	if c.Sender.DKIM.Enabled {
		if c.Sender.DKIM.Domain == "" || c.Sender.DKIM.Selector == "" || c.Sender.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim requires domain, selector and key_file")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}
