package tasksystem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

// ErrSystemShutdown is returned by Dispatch once System.Shutdown has
// been called.
var ErrSystemShutdown = errors.New("tasksystem: system is shutting down")

// TaskHandle is the caller's remote control over a dispatched task: it
// can be paused, resumed, canceled, or force-aborted from anywhere, and
// its outcome can be awaited on Done.
type TaskHandle struct {
	id      TaskID
	runner  *Runner
	outcome TaskOutcome
	gotIt   chan struct{}
}

func newTaskHandle(id TaskID, runner *Runner, doneCh chan TaskOutcome) *TaskHandle {
	h := &TaskHandle{id: id, runner: runner, gotIt: make(chan struct{})}
	go func() {
		h.outcome = <-doneCh
		close(h.gotIt)
	}()
	return h
}

func (h *TaskHandle) ID() TaskID { return h.id }

// Done blocks until the task reaches a terminal status.
func (h *TaskHandle) Done(ctx context.Context) (TaskOutcome, error) {
	select {
	case <-h.gotIt:
		return h.outcome, nil
	case <-ctx.Done():
		return TaskOutcome{}, ctx.Err()
	}
}

func (h *TaskHandle) Pause() bool  { return h.runner.Pause(h.id) }
func (h *TaskHandle) Resume() bool { return h.runner.Resume(h.id) }
func (h *TaskHandle) Cancel() bool { return h.runner.Cancel(h.id) }
func (h *TaskHandle) ForceAbort() error { return h.runner.ForceAbort(h.id) }

// TaskDispatcher is the seam the Job System's pause-gated dispatcher
// wraps (spec's BaseTaskDispatcher external interface): something that
// can take ownership of a Task and hand back a handle to it.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task Task, priority Priority) (*TaskHandle, error)
	DispatchMany(ctx context.Context, tasks []Task, priority Priority) ([]*TaskHandle, error)
}

// System is the task-system supervisor: it owns a fixed pool of
// Runners sharing one Stealer, round-robins new work across them by
// least-loaded selection, and propagates shutdown to all of them.
type System struct {
	log     *logging.Logger
	stealer *Stealer
	runners []*Runner
	metrics Metrics

	nextRunner atomic.Uint64
	started    atomic.Bool
	shutdownCh chan struct{}
}

// New builds a System with workerCount runners (workerCount <= 0 is
// rejected by the caller's config validation, not here).
func New(workerCount int, log *logging.Logger) *System {
	s := &System{
		log:        log.WithComponent("tasksystem"),
		stealer:    NewStealer(workerCount),
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		s.runners = append(s.runners, NewRunner(i, s.stealer, log))
	}
	return s
}

// Metrics returns a snapshot of lifetime dispatch counters.
func (s *System) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// Start launches every runner's dispatch loop.
func (s *System) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for _, r := range s.runners {
		r.Start(ctx)
	}
}

// Shutdown stops accepting new work and waits for every runner to drain
// its queues, replying StatusShutdown to whatever was still pending.
func (s *System) Shutdown(ctx context.Context) {
	close(s.shutdownCh)
	var wg sync.WaitGroup
	for _, r := range s.runners {
		r := r
		wg.Add(1)
		go func() { defer wg.Done(); r.Shutdown(ctx) }()
	}
	wg.Wait()
}

// Dispatch hands task to a runner: the first idle runner in pool order
// if there is one, otherwise the runner with the fewest queued tasks
// (the scan starts from a rotating index), the Go equivalent of the
// reference system's steal-request fan-out for brand-new work. A task
// implementing Prioritized whose Priority is PriorityHigh is queued as
// priority work whatever priority the caller passed.
func (s *System) Dispatch(ctx context.Context, task Task, priority Priority) (*TaskHandle, error) {
	select {
	case <-s.shutdownCh:
		return nil, ErrSystemShutdown
	default:
	}

	if p, ok := task.(Prioritized); ok && p.Priority() == PriorityHigh {
		priority = PriorityHigh
	}
	r := s.pickRunner()
	doneCh := make(chan TaskOutcome, 1)
	r.Submit(task, priority, doneCh)
	s.metrics.recordDispatch()
	return newTaskHandle(task.ID(), r, s.wrapMetrics(doneCh)), nil
}

// wrapMetrics returns a channel that forwards the runner's terminal
// outcome to the caller while also recording every outcome in the
// system's lifetime metrics. A StatusSuspend outcome is recorded but not
// forwarded: the suspended task is resumed later and reports again.
func (s *System) wrapMetrics(in chan TaskOutcome) chan TaskOutcome {
	out := make(chan TaskOutcome, 1)
	go func() {
		for {
			o := <-in
			s.metrics.record(o.Status)
			if o.Status == StatusSuspend {
				continue
			}
			out <- o
			return
		}
	}()
	return out
}

// DispatchMany dispatches every task, stopping at the first dispatch
// error (which can currently only be ErrSystemShutdown).
func (s *System) DispatchMany(ctx context.Context, tasks []Task, priority Priority) ([]*TaskHandle, error) {
	handles := make([]*TaskHandle, 0, len(tasks))
	for _, t := range tasks {
		h, err := s.Dispatch(ctx, t, priority)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *System) pickRunner() *Runner {
	for _, r := range s.runners {
		if r.IsIdle() {
			return r
		}
	}
	n := len(s.runners)
	idx := int(s.nextRunner.Add(1)) % n
	best := s.runners[idx]
	bestLoad := best.TotalTasks()
	for _, r := range s.runners {
		if load := r.TotalTasks(); load < bestLoad {
			best, bestLoad = r, load
		}
	}
	return best
}

// WorkerCount returns the number of runners in the pool.
func (s *System) WorkerCount() int { return len(s.runners) }
