package tasksystem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

type fnTask struct {
	id  TaskID
	run func(ctx context.Context, it *Interrupter) (ExecStatus, error)
}

func (t *fnTask) ID() TaskID { return t.id }
func (t *fnTask) Run(ctx context.Context, it *Interrupter) (ExecStatus, error) {
	return t.run(ctx, it)
}

func newFnTask(run func(ctx context.Context, it *Interrupter) (ExecStatus, error)) *fnTask {
	return &fnTask{id: NewTaskID(), run: run}
}

func testSystem(t *testing.T, workers int) *System {
	t.Helper()
	log := logging.NewLogger(logging.DefaultConfig())
	s := New(workers, log)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutCancel()
		s.Shutdown(shutCtx)
	})
	return s
}

func TestDispatchRunsTaskToCompletion(t *testing.T) {
	s := testSystem(t, 2)
	task := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		return ExecDone, nil
	})

	h, err := s.Dispatch(context.Background(), task, Normal)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := h.Done(ctx)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if outcome.Status != StatusDone {
		t.Fatalf("expected StatusDone, got %v", outcome.Status)
	}
}

func TestDispatchPropagatesTaskError(t *testing.T) {
	s := testSystem(t, 1)
	wantErr := errors.New("boom")
	task := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		return ExecDone, wantErr
	})

	h, err := s.Dispatch(context.Background(), task, Normal)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := h.Done(ctx)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if outcome.Status != StatusError {
		t.Fatalf("expected StatusError, got %v", outcome.Status)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	s := testSystem(t, 1)
	blocker := make(chan struct{})
	blocking := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		<-blocker
		return ExecDone, nil
	})
	queued := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		return ExecDone, nil
	})

	if _, err := s.Dispatch(context.Background(), blocking, Normal); err != nil {
		t.Fatalf("dispatch blocking: %v", err)
	}
	h2, err := s.Dispatch(context.Background(), queued, Normal)
	if err != nil {
		t.Fatalf("dispatch queued: %v", err)
	}
	if !h2.Cancel() {
		t.Fatalf("expected queued task to be cancelable")
	}
	close(blocker)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := h2.Done(ctx)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if outcome.Status != StatusCanceled {
		t.Fatalf("expected StatusCanceled, got %v", outcome.Status)
	}
}

func TestForceAbortStopsHungTask(t *testing.T) {
	s := testSystem(t, 1)
	started := make(chan struct{})
	task := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		close(started)
		<-ctx.Done()
		<-time.After(5 * time.Second)
		return ExecDone, nil
	})

	h, err := s.Dispatch(context.Background(), task, Normal)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	<-started
	if err := h.ForceAbort(); err != nil {
		t.Fatalf("force abort: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := h.Done(ctx)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if outcome.Status != StatusForcedAbortion {
		t.Fatalf("expected StatusForcedAbortion, got %v", outcome.Status)
	}
}

func TestPriorityTaskPreemptsNormalTask(t *testing.T) {
	s := testSystem(t, 1)
	release := make(chan struct{})
	normalStarted := make(chan struct{})
	normal := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		close(normalStarted)
		if kind := it.AwaitInterrupt(ctx); kind == InterruptPause {
			return ExecPaused, nil
		}
		return ExecDone, nil
	})
	priority := newFnTask(func(ctx context.Context, it *Interrupter) (ExecStatus, error) {
		close(release)
		return ExecDone, nil
	})

	if _, err := s.Dispatch(context.Background(), normal, Normal); err != nil {
		t.Fatalf("dispatch normal: %v", err)
	}
	<-normalStarted
	hp, err := s.Dispatch(context.Background(), priority, PriorityHigh)
	if err != nil {
		t.Fatalf("dispatch priority: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := hp.Done(ctx)
	if err != nil {
		t.Fatalf("priority task never completed: %v", err)
	}
	if outcome.Status != StatusDone {
		t.Fatalf("expected priority task StatusDone, got %v", outcome.Status)
	}
}
