package location

import (
	"context"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

// WatchJob is a long-running jobsystem.Job that owns a Watcher for one
// location root and calls Trigger every time the watcher observes a
// debounced burst of filesystem changes. It runs until canceled,
// matching the reference location watcher's own "runs until the library
// is unmounted" lifetime; it returns ReturnErrored if the watcher cannot
// be set up, and ReturnCompleted if the watcher stops before ctx is
// canceled.
type WatchJob struct {
	Root    string
	Trigger func(ctx context.Context, jc jobsystem.JobContext, root string)

	watcher *Watcher
}

func NewWatchJob(root string, trigger func(ctx context.Context, jc jobsystem.JobContext, root string)) *WatchJob {
	return &WatchJob{Root: root, Trigger: trigger}
}

func (j *WatchJob) Name() jobsystem.JobName { return jobsystem.JobNameLocationWatch }

func (j *WatchJob) Hash() uint64 {
	return jobsystem.HashJobKey(jobsystem.JobNameLocationWatch, j.Root)
}

func (j *WatchJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	w, err := NewWatcher(0, func(innerCtx context.Context, root string) {
		j.Trigger(innerCtx, jc, root)
	}, loggerFromContext(jc))
	if err != nil {
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnErrored, Err: err}
	}
	if err := w.Watch(j.Root); err != nil {
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnErrored, Err: err}
	}
	j.watcher = w

	jc.Progress([]jobsystem.ProgressUpdate{jobsystem.ProgressMessage("watching " + j.Root)})

	w.Run(ctx)

	select {
	case <-ctx.Done():
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
	default:
		ret := jobsystem.NewJobReturn().Build()
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCompleted, Return: &ret}
	}
}

// loggerFromContext pulls a component logger off the OuterContext when
// one is available, falling back to a logger built from
// logging.DefaultConfig() so a WatchJob never panics against a minimal
// test OuterContext.
func loggerFromContext(jc jobsystem.JobContext) *logging.Logger {
	if lp, ok := jc.OuterContext().(interface{ Logger() *logging.Logger }); ok {
		return lp.Logger()
	}
	return logging.NewLogger(logging.DefaultConfig())
}
