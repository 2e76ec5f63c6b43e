// Command vaultfsd runs the task/job engine as a standalone daemon: it
// loads a Config, brings up the job system and its control API, and
// optionally seeds an indexer job (with an fsnotify watch to keep it
// current) against a location root given on the command line.
//
// Grounded on cmd/noisefs/main.go's flag-then-subcommand shape: flags
// configure the one long-running "serve" behavior this binary has,
// since there is no upload/download surface here to dispatch
// subcommands for.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entropycollective/vaultfs/pkg/config"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

func main() {
	var (
		configFile = flag.String("config", "", "configuration file path (defaults to the platform config dir)")
		addr       = flag.String("addr", "", "control API bind address (overrides config)")
		indexRoot  = flag.String("index", "", "location root to index on startup")
		watch      = flag.Bool("watch", false, "watch -index for changes and re-index on the fly")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultfsd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	log := logging.NewLogger(loggerConfig(cfg.Logging)).WithComponent("vaultfsd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("failed to create data directory", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		log.Error("failed to initialize", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Start(ctx)

	if *indexRoot != "" {
		if err := d.seedIndex(ctx, *indexRoot, *watch); err != nil {
			log.Error("failed to seed index job", map[string]interface{}{"root": *indexRoot, "error": err.Error()})
		}
	}

	if cfg.API.Enabled {
		log.Info("serving", map[string]interface{}{"addr": cfg.API.Addr})
		if err := d.Serve(ctx); err != nil {
			log.Error("server exited with error", map[string]interface{}{"error": err.Error()})
		}
	} else {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not finish cleanly", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loggerConfig translates the JSON-friendly config.LoggingConfig into
// the typed logging.Config NewLogger expects.
func loggerConfig(lc config.LoggingConfig) *logging.Config {
	level, err := logging.ParseLogLevel(lc.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	format := logging.TextFormat
	if lc.Format == "json" {
		format = logging.JSONFormat
	}
	var out *os.File = os.Stdout
	if lc.Output == "file" && lc.File != "" {
		if f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}
	return &logging.Config{Level: level, Format: format, Output: out}
}
