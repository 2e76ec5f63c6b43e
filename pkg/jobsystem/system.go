package jobsystem

import (
	"context"
	"path/filepath"

	"github.com/entropycollective/vaultfs/pkg/logging"
	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

const storedJobsFile = "jobs.bin"

// JobSystem is the public entry point: it owns a tasksystem.System for
// actually running work and a single runner actor that tracks every
// in-flight Job's Report, dispatcher and resume chain.
type JobSystem struct {
	tasks    *tasksystem.System
	rn       *runner
	log      *logging.Logger
	dataPath string
	cancel   context.CancelFunc
}

// New builds a JobSystem backed by workerCount tasksystem workers.
// Persisted state (from a prior clean shutdown) lives under dataDir.
func New(workerCount int, sink DbSink, dataDir string, log *logging.Logger) *JobSystem {
	tasks := tasksystem.New(workerCount, log)
	dataPath := filepath.Join(dataDir, storedJobsFile)
	return &JobSystem{
		tasks:    tasks,
		rn:       newRunner(tasks, sink, dataPath, log),
		log:      log.WithComponent("jobsystem"),
		dataPath: dataPath,
	}
}

// Start brings up the underlying task system and the job runner actor.
func (js *JobSystem) Start(ctx context.Context) {
	js.tasks.Start(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	js.cancel = cancel
	go js.rn.run(runCtx)
}

// Shutdown drains every in-flight job (serializing what it can),
// persists what's left to disk, then shuts down the task system.
func (js *JobSystem) Shutdown(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case js.rn.shutdownCh <- ack:
		<-ack
	case <-ctx.Done():
		return ctx.Err()
	}
	if js.cancel != nil {
		js.cancel()
	}
	js.tasks.Shutdown(ctx)
	return nil
}

// NewJob starts job running under outer, as the head of a resume chain
// continuing with nextJobs once job itself completes. locationID is the
// location (or other addressable target) job runs against; it is
// carried into the job's StoredJobEntry unchanged so a later
// ResumeStoredJob can hand it straight back. action groups jobs for
// IsAnyRunning / dedup-by-key checks (e.g. "index:/library").
func (js *JobSystem) NewJob(ctx context.Context, job Job, locationID LocationID, outer OuterContext, action string, nextJobs ...Job) (*JobHandle, error) {
	ack := make(chan newJobResult, 1)
	req := newJobRequest{job: job, locationID: locationID, outer: outer, action: action, nextJobs: nextJobs, ack: ack}
	select {
	case js.rn.newJobCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-ack:
		return res.handle, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResumeStoredJob restarts a job that was serialized at a prior
// shutdown. The caller is responsible for reconstructing the concrete
// Job beforehand (e.g. via whatever per-JobName deserializer registry
// it maintains); entry.Tasks is handed to the resumed job's
// ResumeTasks unchanged so it can rebuild whatever it had in flight.
// entry.NextJobs holds that job's own not-yet-started resume-chain
// children, each of which the caller must separately reconstruct (by
// Name) and pass back in to the new root job's own NewJob call once
// this one is running.
func (js *JobSystem) ResumeStoredJob(ctx context.Context, entry StoredJobEntry, job ResumableJob, outer OuterContext) (*JobHandle, error) {
	ack := make(chan newJobResult, 1)
	req := newJobRequest{job: job, locationID: entry.LocationID, outer: outer, action: string(job.Name()), resume: entry.Tasks, ack: ack}
	select {
	case js.rn.newJobCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-ack:
		return res.handle, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadPersistedJobs reads back whatever was serialized at the previous
// clean shutdown, keyed by the OuterContext each batch ran under.
func (js *JobSystem) LoadPersistedJobs() (map[CtxID][]StoredJobEntry, error) {
	return LoadStoredJobs(js.dataPath)
}

// Command sends a Pause/Resume/Cancel request to the job named id.
func (js *JobSystem) Command(ctx context.Context, id JobID, cmd Command) error {
	ack := make(chan error, 1)
	req := commandRequest{id: id, cmd: cmd, ack: ack}
	select {
	case js.rn.commandCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveReports returns a snapshot of every currently in-flight job's
// Report.
func (js *JobSystem) ActiveReports(ctx context.Context) ([]*Report, error) {
	ack := make(chan []*Report, 1)
	select {
	case js.rn.reportsCh <- reportsRequest{ack: ack}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reports := <-ack:
		return reports, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsAnyRunning reports whether any job named one of names is currently
// running under the dedup key (the same action string passed to
// NewJob).
func (js *JobSystem) IsAnyRunning(ctx context.Context, key string, names ...JobName) (bool, error) {
	ack := make(chan bool, 1)
	req := runningCheckRequest{names: names, key: key, ack: ack}
	select {
	case js.rn.runningCh <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case running := <-ack:
		return running, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WorkerCount reports how many task-system workers back this job
// system.
func (js *JobSystem) WorkerCount() int { return js.tasks.WorkerCount() }

// Metrics exposes the underlying task system's dispatch/completion
// counters.
func (js *JobSystem) Metrics() tasksystem.MetricsSnapshot { return js.tasks.Metrics() }
