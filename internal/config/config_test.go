package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxBytes != 32<<20 {
		t.Errorf("MaxBytes = %d, want %d", cfg.MaxBytes, int64(32<<20))
	}
	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Workers)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("Retry.Attempts = %d, want 3", cfg.Retry.Attempts)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
base_url: https://imagery.example.com
image: S2A_20260831
band: B04
max_bytes: 16MB
workers: 8
timeout: 45s
retry:
  attempts: 5
  backoff: 500ms
  max_backoff: 10s
bucket: file:///tmp/exports
export_key: s2a/b04
log_level: debug
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.BaseURL != "https://imagery.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.MaxBytes != 16<<20 {
		t.Errorf("MaxBytes = %d, want %d", cfg.MaxBytes, int64(16<<20))
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Timeout)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.Backoff != 500*time.Millisecond || cfg.Retry.MaxBackoff != 10*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	// Untouched fields keep their defaults.
	if cfg.UserAgent != "rasterfetch/0.1.0" {
		t.Errorf("UserAgent = %q, want default", cfg.UserAgent)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile(missing) should fail")
	}

	path := writeConfig(t, "max_bytes: [not, a, size]")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile(malformed) should fail")
	}

	path = writeConfig(t, "max_bytes: chunky")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile(bad size) should fail")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RASTERFETCH_BASE_URL", "https://env.example.com")
	t.Setenv("RASTERFETCH_IMAGE", "env-image")
	t.Setenv("RASTERFETCH_BAND", "B08")
	t.Setenv("RASTERFETCH_MAX_BYTES", "8MB")
	t.Setenv("RASTERFETCH_WORKERS", "12")
	t.Setenv("RASTERFETCH_RETRY_BACKOFF", "2s")
	t.Setenv("RASTERFETCH_LOG_PRETTY", "1")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Image != "env-image" || cfg.Band != "B08" {
		t.Errorf("target = %s/%s", cfg.Image, cfg.Band)
	}
	if cfg.MaxBytes != 8<<20 {
		t.Errorf("MaxBytes = %d, want %d", cfg.MaxBytes, int64(8<<20))
	}
	if cfg.Workers != 12 {
		t.Errorf("Workers = %d, want 12", cfg.Workers)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("Retry.Backoff = %v, want 2s", cfg.Retry.Backoff)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty should be enabled")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("RASTERFETCH_WORKERS", "many")
	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("LoadFromEnv() should reject a non-numeric worker count")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.BaseURL = "https://imagery.example.com"
	valid.Image = "img"
	valid.Band = "B04"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing base_url", func(c *Config) { c.BaseURL = "" }, true},
		{"missing image", func(c *Config) { c.Image = "" }, true},
		{"missing band", func(c *Config) { c.Band = "" }, true},
		{"zero max_bytes", func(c *Config) { c.MaxBytes = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"bucket without key", func(c *Config) { c.Bucket = "mem://" }, true},
		{"bucket with key", func(c *Config) { c.Bucket = "mem://"; c.ExportKey = "k" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"32MB", 32 << 20, false},
		{"1GB", 1 << 30, false},
		{"512KB", 512 << 10, false},
		{"100B", 100, false},
		{"100", 100, false},
		{"1.5MB", 1<<20 + 512<<10, false},
		{"chunky", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBytes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBytes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBytes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
