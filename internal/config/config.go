// Package config loads rasterfetch CLI configuration from a YAML file
// and environment variables. Precedence is defaults, then file, then
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the rasterfetch CLI.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Image     string        `yaml:"image"`
	Band      string        `yaml:"band"`
	MaxBytes  int64         `yaml:"max_bytes"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     RetryConfig   `yaml:"retry"`
	Redis     string        `yaml:"redis"`
	Bucket    string        `yaml:"bucket"`
	ExportKey string        `yaml:"export_key"`
	LogLevel  string        `yaml:"log_level"`
	LogPretty bool          `yaml:"log_pretty"`
}

// RetryConfig defines per-tile retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		UserAgent: "rasterfetch/0.1.0",
		MaxBytes:  32 << 20,
		Workers:   5,
		Timeout:   30 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable size and
// duration strings.
type yamlConfig struct {
	BaseURL   string          `yaml:"base_url"`
	UserAgent string          `yaml:"user_agent"`
	Image     string          `yaml:"image"`
	Band      string          `yaml:"band"`
	MaxBytes  string          `yaml:"max_bytes"`
	Workers   int             `yaml:"workers"`
	Timeout   string          `yaml:"timeout"`
	Retry     yamlRetryConfig `yaml:"retry"`
	Redis     string          `yaml:"redis"`
	Bucket    string          `yaml:"bucket"`
	ExportKey string          `yaml:"export_key"`
	LogLevel  string          `yaml:"log_level"`
	LogPretty bool            `yaml:"log_pretty"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.BaseURL != "" {
		cfg.BaseURL = yc.BaseURL
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.Image != "" {
		cfg.Image = yc.Image
	}
	if yc.Band != "" {
		cfg.Band = yc.Band
	}
	if yc.MaxBytes != "" {
		size, err := ParseBytes(yc.MaxBytes)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_bytes: %w", err)
		}
		cfg.MaxBytes = size
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	if yc.Redis != "" {
		cfg.Redis = yc.Redis
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.ExportKey != "" {
		cfg.ExportKey = yc.ExportKey
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	cfg.LogPretty = yc.LogPretty

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides. Variables use the
// RASTERFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("RASTERFETCH_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("RASTERFETCH_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("RASTERFETCH_IMAGE"); v != "" {
		c.Image = v
	}
	if v := os.Getenv("RASTERFETCH_BAND"); v != "" {
		c.Band = v
	}
	if v := os.Getenv("RASTERFETCH_MAX_BYTES"); v != "" {
		size, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_MAX_BYTES: %w", err)
		}
		c.MaxBytes = size
	}
	if v := os.Getenv("RASTERFETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("RASTERFETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("RASTERFETCH_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("RASTERFETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("RASTERFETCH_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse RASTERFETCH_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("RASTERFETCH_REDIS"); v != "" {
		c.Redis = v
	}
	if v := os.Getenv("RASTERFETCH_BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv("RASTERFETCH_EXPORT_KEY"); v != "" {
		c.ExportKey = v
	}
	if v := os.Getenv("RASTERFETCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RASTERFETCH_LOG_PRETTY"); v != "" {
		c.LogPretty = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.Image == "" {
		return errors.New("config: image is required")
	}
	if c.Band == "" {
		return errors.New("config: band is required")
	}
	if c.MaxBytes <= 0 {
		return errors.New("config: max_bytes must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Bucket != "" && c.ExportKey == "" {
		return errors.New("config: export_key is required when a bucket is set")
	}
	return nil
}

// ParseBytes parses a human-readable byte size such as "32MB" or "512KB".
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(value * float64(multiplier)), nil
}
