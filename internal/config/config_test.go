package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.MaxUploadBytes != 5<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 5<<20)
	}
	if cfg.TempTTL != 24*time.Hour {
		t.Errorf("TempTTL = %v, want 24h", cfg.TempTTL)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval = %v, want 10m", cfg.SweepInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("TEMP_UPLOAD_TTL", "1h")
	t.Setenv("VARIANT_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.MaxUploadBytes != 1048576 {
		t.Errorf("MaxUploadBytes = %d, want 1048576", cfg.MaxUploadBytes)
	}
	if cfg.TempTTL != time.Hour {
		t.Errorf("TempTTL = %v, want 1h", cfg.TempTTL)
	}
	if cfg.VariantWorkers != 8 {
		t.Errorf("VariantWorkers = %d, want 8", cfg.VariantWorkers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("TEMP_UPLOAD_TTL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("Expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		MaxUploadBytes: 1,
		TempTTL:        time.Hour,
		VariantWorkers: 1,
		SweepInterval:  time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg.VariantWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero workers")
	}
}
