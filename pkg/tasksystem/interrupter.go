package tasksystem

import (
	"context"
	"sync"
)

// InterruptKind tells a Task why Check/AwaitInterrupt returned.
type InterruptKind int

const (
	InterruptNone InterruptKind = iota
	InterruptPause
	InterruptCancel
)

// Interrupter is handed to a running Task so it can cooperatively yield
// control. A Task that never calls Check or AwaitInterrupt can still be
// force-aborted by the runner, but it cannot pause or cancel cleanly.
type Interrupter struct {
	pauseCh  chan struct{}
	cancelCh chan struct{}
	ackCh    chan struct{}

	pauseOnce  sync.Once
	cancelOnce sync.Once
}

// NewInterrupter builds a fresh Interrupter for one task run.
func NewInterrupter() *Interrupter {
	return &Interrupter{
		pauseCh:  make(chan struct{}),
		cancelCh: make(chan struct{}),
		ackCh:    make(chan struct{}),
	}
}

// Check performs a non-blocking poll of pending pause/cancel signals.
func (i *Interrupter) Check() InterruptKind {
	select {
	case <-i.cancelCh:
		return InterruptCancel
	default:
	}
	select {
	case <-i.pauseCh:
		return InterruptPause
	default:
	}
	return InterruptNone
}

// AwaitInterrupt blocks until a pause or cancel signal arrives or the
// caller's context is canceled (a canceled ctx returns InterruptNone so
// callers don't need a separate branch for "neither happened").
func (i *Interrupter) AwaitInterrupt(ctx context.Context) InterruptKind {
	select {
	case <-i.cancelCh:
		return InterruptCancel
	case <-i.pauseCh:
		return InterruptPause
	case <-ctx.Done():
		return InterruptNone
	}
}

// signalPause wakes any blocked AwaitInterrupt with InterruptPause.
func (i *Interrupter) signalPause() { i.pauseOnce.Do(func() { close(i.pauseCh) }) }

// signalCancel wakes any blocked AwaitInterrupt with InterruptCancel.
func (i *Interrupter) signalCancel() { i.cancelOnce.Do(func() { close(i.cancelCh) }) }

// ack lets the task runner know the task observed the pause and has
// actually stopped running, mirroring the Rust worktable's pause
// acknowledgment channel.
func (i *Interrupter) ack() {
	select {
	case i.ackCh <- struct{}{}:
	default:
	}
}

// Reset rebuilds the signal channels so a suspended Interrupter can be
// reused across a resume cycle without racing a previous pause signal.
func (i *Interrupter) Reset() {
	i.pauseCh = make(chan struct{})
	i.cancelCh = make(chan struct{})
	i.ackCh = make(chan struct{})
	i.pauseOnce = sync.Once{}
	i.cancelOnce = sync.Once{}
}
