package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/entropycollective/vaultfs/pkg/api"
	"github.com/entropycollective/vaultfs/pkg/config"
	"github.com/entropycollective/vaultfs/pkg/dbsink"
	"github.com/entropycollective/vaultfs/pkg/indexer"
	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/location"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

// daemon wires every engine package the way cmd/noisefs/main.go wires
// its own client/storage/cache layer: one place that builds every
// collaborator and hands the results to whatever needs them.
type daemon struct {
	cfg    *config.Config
	log    *logging.Logger
	sink   jobsystem.DbSink
	jobs   *jobsystem.JobSystem
	server *api.Server
	index  indexer.IndexSink
	outer  *daemonOuterContext
}

func newDaemon(cfg *config.Config, log *logging.Logger) (*daemon, error) {
	sink, err := openSink(cfg.DbSink)
	if err != nil {
		return nil, fmt.Errorf("vaultfsd: open db sink: %w", err)
	}

	idx, err := indexer.OpenBleveSink(filepath.Join(cfg.DataDir, "index.bleve"))
	if err != nil {
		return nil, fmt.Errorf("vaultfsd: open indexer: %w", err)
	}

	jobs := jobsystem.New(cfg.Engine.WorkerCount, sink, cfg.DataDir, log)
	server := api.NewServer(jobs, log)
	outer := &daemonOuterContext{id: "vaultfsd", sink: sink, dataDir: cfg.DataDir, log: log}

	return &daemon{cfg: cfg, log: log, sink: sink, jobs: jobs, server: server, index: idx, outer: outer}, nil
}

func openSink(cfg config.DbSinkConfig) (jobsystem.DbSink, error) {
	switch cfg.Driver {
	case "postgres":
		return dbsink.NewPostgres(context.Background(), dbsink.Config{ConnectionString: cfg.DSN})
	default:
		return dbsink.NewMemory(), nil
	}
}

func (d *daemon) Start(ctx context.Context) { d.jobs.Start(ctx) }

func (d *daemon) Serve(ctx context.Context) error {
	return d.server.Serve(ctx, d.cfg.API.Addr)
}

func (d *daemon) Shutdown(ctx context.Context) error {
	return d.jobs.Shutdown(ctx)
}

// seedIndex submits an indexer job for root and, if watch is set,
// starts a WatchJob that resubmits it on every debounced filesystem
// change, the two jobs spec.md's location-watching module implies
// working together.
func (d *daemon) seedIndex(ctx context.Context, root string, watch bool) error {
	submit := func() error {
		job := indexer.NewJob(root, d.index)
		_, err := d.jobs.NewJob(ctx, job, jobsystem.LocationID(root), d.outer, "index:"+root)
		if _, ok := err.(*jobsystem.AlreadyRunningError); ok {
			return nil
		}
		return err
	}

	if err := submit(); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	watchJob := location.NewWatchJob(root, func(ctx context.Context, jc jobsystem.JobContext, changedRoot string) {
		if err := submit(); err != nil {
			d.log.Warn("re-index after change failed", map[string]interface{}{"root": changedRoot, "error": err.Error()})
		}
	})
	_, err := d.jobs.NewJob(ctx, watchJob, jobsystem.LocationID(root), d.outer, "watch:"+root)
	if _, ok := err.(*jobsystem.AlreadyRunningError); ok {
		return nil
	}
	return err
}
