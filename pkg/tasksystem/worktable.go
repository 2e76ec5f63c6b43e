package tasksystem

import "sync/atomic"

// worktableFlag values are stored in Worktable.state, one bit each, so
// a single atomic load/CAS can answer "has this task started/paused/
// canceled/aborted/completed" without a mutex on the hot path every
// worker loop iteration touches.
const (
	flagStarted uint32 = 1 << iota
	flagPaused
	flagCanceled
	flagAborted
	flagCompleted
)

// Worktable is the piece of task state that is safe to read from any
// goroutine: the owning Runner sets its flags as the task moves through
// its lifecycle, and any goroutine may read them concurrently.
type Worktable struct {
	state   atomic.Uint32
	pauseAck chan struct{}
}

// NewWorktable returns a Worktable in its initial, not-yet-started
// state.
func NewWorktable() *Worktable {
	return &Worktable{pauseAck: make(chan struct{}, 1)}
}

func (w *Worktable) has(flag uint32) bool {
	return w.state.Load()&flag != 0
}

func (w *Worktable) set(flag uint32) {
	for {
		old := w.state.Load()
		if old&flag != 0 {
			return
		}
		if w.state.CompareAndSwap(old, old|flag) {
			return
		}
	}
}

func (w *Worktable) SetStarted()   { w.set(flagStarted) }
func (w *Worktable) SetCompleted() { w.set(flagCompleted) }
func (w *Worktable) SetCanceled()  { w.set(flagCanceled) }
func (w *Worktable) SetAborted()   { w.set(flagAborted) }

func (w *Worktable) HasStarted() bool   { return w.has(flagStarted) }
func (w *Worktable) IsCompleted() bool  { return w.has(flagCompleted) }
func (w *Worktable) IsCanceled() bool   { return w.has(flagCanceled) }
func (w *Worktable) IsAborted() bool    { return w.has(flagAborted) }
func (w *Worktable) IsPaused() bool     { return w.has(flagPaused) }
func (w *Worktable) IsLive() bool {
	return w.HasStarted() && !w.IsCompleted() && !w.IsCanceled() && !w.IsAborted()
}

// Pause marks the task paused and returns a channel that receives a
// value once the pause is acknowledged by AckPause (see finishNormal in
// runner.go). A task that is not live yet has nothing to acknowledge,
// so the channel is pre-closed.
func (w *Worktable) Pause() <-chan struct{} {
	w.set(flagPaused)
	if !w.IsLive() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.pauseAck
}

// AckPause is called by the Runner (in finishNormal) after the task's
// Run has returned ExecPaused.
func (w *Worktable) AckPause() {
	select {
	case w.pauseAck <- struct{}{}:
	default:
	}
}

// Unpause clears the paused flag so a resumed task can run again.
func (w *Worktable) Unpause() {
	for {
		old := w.state.Load()
		next := old &^ flagPaused
		if w.state.CompareAndSwap(old, next) {
			return
		}
	}
}
