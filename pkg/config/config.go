// Package config loads and validates the engine's runtime configuration:
// worker pool sizing, shutdown timeouts, data directory, DbSink DSN and
// HTTP bind address, in the encoding/json-backed
// DefaultConfig/LoadConfig shape of the teacher repository's
// pkg/infrastructure/config (a package this repository does not have).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds every knob the task/job engine and its surrounding
// daemon need at startup.
type Config struct {
	// Engine controls the task-system worker pool and job-system
	// shutdown behavior.
	Engine EngineConfig `json:"engine"`

	// Logging mirrors pkg/logging.Config's shape.
	Logging LoggingConfig `json:"logging"`

	// DbSink configures the Report persistence backend.
	DbSink DbSinkConfig `json:"db_sink"`

	// API configures the control HTTP/websocket surface.
	API APIConfig `json:"api"`

	// DataDir is where the shutdown-state file (jobs.bin), bleve
	// indexes, and thumbnail cache live.
	DataDir string `json:"data_dir"`
}

// EngineConfig sizes the task-system worker pool and bounds how long
// shutdown waits for in-flight jobs to serialize themselves.
type EngineConfig struct {
	WorkerCount     int           `json:"worker_count"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LoggingConfig mirrors pkg/logging's Config fields so it round-trips
// through the same JSON shape as the rest of the config file.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// DbSinkConfig selects and configures the Report persistence backend.
type DbSinkConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// APIConfig configures the control HTTP surface.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfig returns sane defaults: one worker per logical CPU, a
// 30s shutdown grace period, an in-memory DbSink, and the API disabled.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			WorkerCount:     runtime.NumCPU(),
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		DbSink: DbSinkConfig{
			Driver: "memory",
		},
		API: APIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8787",
		},
		DataDir: defaultDataDir(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vaultfs"
	}
	return filepath.Join(home, ".vaultfs")
}

// LoadConfig reads configPath, falling back silently to DefaultConfig
// when the file does not exist (a first run has nothing to load yet).
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as indented JSON to path, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the config for values the engine cannot start with.
func (c *Config) Validate() error {
	if c.Engine.WorkerCount <= 0 {
		return fmt.Errorf("config: engine.worker_count must be positive, got %d", c.Engine.WorkerCount)
	}
	if c.Engine.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: engine.shutdown_timeout must be positive, got %s", c.Engine.ShutdownTimeout)
	}
	switch c.DbSink.Driver {
	case "memory":
	case "postgres":
		if c.DbSink.DSN == "" {
			return fmt.Errorf("config: db_sink.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown db_sink.driver %q", c.DbSink.Driver)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	return nil
}

// GetDefaultConfigPath returns the per-user default config file
// location, matching pkg/infrastructure/config's layout convention.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: determine home directory: %w", err)
	}
	return filepath.Join(home, ".vaultfs", "config.json"), nil
}
