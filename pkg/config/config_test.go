package config

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.WorkerCount != runtime.NumCPU() {
		t.Errorf("expected worker count %d, got %d", runtime.NumCPU(), cfg.Engine.WorkerCount)
	}
	if cfg.DbSink.Driver != "memory" {
		t.Errorf("expected default db_sink driver memory, got %q", cfg.DbSink.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.WorkerCount = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero worker count should fail validation")
	}

	cfg = DefaultConfig()
	cfg.DbSink.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres driver with no DSN should fail validation")
	}
	cfg.DbSink.DSN = "postgres://localhost/vaultfs"
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres driver with DSN should validate, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.DbSink.Driver = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown driver should fail validation")
	}
}

func TestLoadConfigMissingFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig on a missing file should not error, got %v", err)
	}
	if cfg.Engine.WorkerCount != runtime.NumCPU() {
		t.Errorf("expected fallback to DefaultConfig, got worker count %d", cfg.Engine.WorkerCount)
	}
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Engine.WorkerCount = 7
	cfg.API.Enabled = true
	cfg.API.Addr = "0.0.0.0:9000"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Engine.WorkerCount != 7 {
		t.Errorf("expected worker count 7, got %d", loaded.Engine.WorkerCount)
	}
	if !loaded.API.Enabled || loaded.API.Addr != "0.0.0.0:9000" {
		t.Errorf("expected API config to round-trip, got %+v", loaded.API)
	}
}
