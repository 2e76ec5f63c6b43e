package tasksystem

import "sync/atomic"

// Metrics accumulates lifetime counters across an entire System, the
// Go-native analogue of the reference Pool's PoolStats.
type Metrics struct {
	dispatched atomic.Int64
	completed  atomic.Int64
	errored    atomic.Int64
	canceled   atomic.Int64
	aborted    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics safe to hand to a
// caller.
type MetricsSnapshot struct {
	Dispatched int64
	Completed  int64
	Errored    int64
	Canceled   int64
	Aborted    int64
}

func (m *Metrics) recordDispatch() { m.dispatched.Add(1) }

func (m *Metrics) record(status TaskStatus) {
	switch status {
	case StatusDone, StatusSuspend:
		m.completed.Add(1)
	case StatusError:
		m.errored.Add(1)
	case StatusCanceled, StatusShutdown:
		m.canceled.Add(1)
	case StatusForcedAbortion:
		m.aborted.Add(1)
	}
}

// Snapshot returns a consistent-enough copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Dispatched: m.dispatched.Load(),
		Completed:  m.completed.Load(),
		Errored:    m.errored.Load(),
		Canceled:   m.canceled.Load(),
		Aborted:    m.aborted.Load(),
	}
}
