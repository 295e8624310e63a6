package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bfruehauf/rasterfetch/internal/config"
	"github.com/bfruehauf/rasterfetch/pkg/assemble"
	"github.com/bfruehauf/rasterfetch/pkg/raster"
)

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("RASTERFETCH_BASE_URL", "https://imagery.example.com")
	t.Setenv("RASTERFETCH_IMAGE", "S2A_20260831")
	t.Setenv("RASTERFETCH_BAND", "B04")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.BaseURL != "https://imagery.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.MaxBytes != 32<<20 {
		t.Errorf("MaxBytes = %d, want default", cfg.MaxBytes)
	}
}

func TestLoadConfig_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
base_url: https://file.example.com
image: file-image
band: B02
workers: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("RASTERFETCH_CONFIG", path)
	t.Setenv("RASTERFETCH_BAND", "B08")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Image != "file-image" {
		t.Errorf("Image = %q, want file-image", cfg.Image)
	}
	if cfg.Band != "B08" {
		t.Errorf("Band = %q, environment should override the file", cfg.Band)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("RASTERFETCH_BASE_URL", "")
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() should fail without a base URL")
	}
}

func TestExportOutcome(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bucket = "file://" + dir
	cfg.ExportKey = "out/band"
	cfg.Image = "img"
	cfg.Band = "B04"

	arr, err := raster.NewArray(raster.Spec{Height: 2, Width: 2, DType: raster.Uint8})
	if err != nil {
		t.Fatalf("NewArray() error = %v", err)
	}
	outcome := &assemble.Outcome{Array: arr}

	if err := exportOutcome(context.Background(), cfg, outcome); err != nil {
		t.Fatalf("exportOutcome() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "out", "band.raw")); err != nil {
		t.Errorf("pixel blob not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "band.json")); err != nil {
		t.Errorf("metadata not written: %v", err)
	}
}
