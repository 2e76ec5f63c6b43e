package jobsystem

import (
	"context"
	"sync"

	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

// gate is a channel-based condition variable standing in for the
// reference dispatcher's watch::Receiver<JobRunningState>: Wait blocks
// until the gate is resumed (or ctx is canceled), Pause/Resume flip it.
// A fresh gate starts open, matching JobRunningState::Running's default.
type gate struct {
	mu      sync.Mutex
	paused  bool
	release chan struct{}
}

func newGate() *gate { return &gate{} }

func (g *gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.release = make(chan struct{})
}

func (g *gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.release)
	g.release = nil
}

// Wait blocks only while the gate is paused.
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.release
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskDispatcher is the pause-gated front for a tasksystem.System that
// a Job sees in place of the raw system: every dispatch first waits for
// dispatch approval (blocked while the owning job is paused), and every
// resulting tasksystem.TaskHandle is tracked so a later job-level
// Pause/Resume/Cancel command can broadcast to every task the job has
// in flight. This is the Go analogue of the reference JobTaskDispatcher
// plus its remote_controllers fan-out.
type TaskDispatcher struct {
	inner *tasksystem.System
	gate  *gate

	mu          sync.Mutex
	controllers []*tasksystem.TaskHandle
}

// NewTaskDispatcher wraps inner with a pause gate.
func NewTaskDispatcher(inner *tasksystem.System) *TaskDispatcher {
	return &TaskDispatcher{inner: inner, gate: newGate()}
}

// Dispatch waits for approval, then hands task to the underlying
// system, registering the resulting handle for later broadcast.
func (d *TaskDispatcher) Dispatch(ctx context.Context, task tasksystem.Task, priority tasksystem.Priority) (*tasksystem.TaskHandle, error) {
	if err := d.gate.Wait(ctx); err != nil {
		return nil, err
	}
	h, err := d.inner.Dispatch(ctx, task, priority)
	if err != nil {
		return nil, err
	}
	d.track(h)
	return h, nil
}

// DispatchMany dispatches every task, stopping at the first error.
func (d *TaskDispatcher) DispatchMany(ctx context.Context, tasks []tasksystem.Task, priority tasksystem.Priority) ([]*tasksystem.TaskHandle, error) {
	handles := make([]*tasksystem.TaskHandle, 0, len(tasks))
	for _, t := range tasks {
		h, err := d.Dispatch(ctx, t, priority)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (d *TaskDispatcher) track(h *tasksystem.TaskHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controllers = append(d.controllers, h)
}

// Pause closes the dispatch gate and asks every task this job has
// in flight to pause cooperatively.
func (d *TaskDispatcher) Pause() {
	d.gate.Pause()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.controllers {
		h.Pause()
	}
}

// Resume reopens the dispatch gate and resumes every tracked task.
func (d *TaskDispatcher) Resume() {
	d.gate.Resume()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.controllers {
		h.Resume()
	}
}

// Cancel cancels every task this job has dispatched so far. It does not
// reopen the gate; a canceled job never dispatches again.
func (d *TaskDispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.controllers {
		h.Cancel()
	}
}
