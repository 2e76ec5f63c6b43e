// Package tasksystem implements a work-stealing, priority-aware task
// engine: a fixed pool of worker runners, each holding a local deque,
// that can steal work from one another, pause/resume/cancel/abort
// in-flight tasks cooperatively, and race a task's execution against
// an optional per-task timeout.
package tasksystem

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskID opaquely identifies a single task across its entire lifetime,
// including any suspend/resume cycle.
type TaskID uuid.UUID

// NewTaskID allocates a fresh, random task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// ExecStatus is the outcome a Task itself can report from Run: it knows
// nothing about errors or forced abortion, those are layered on by the
// runner.
type ExecStatus int

const (
	ExecDone ExecStatus = iota
	ExecPaused
	ExecCanceled
)

func (s ExecStatus) String() string {
	switch s {
	case ExecDone:
		return "done"
	case ExecPaused:
		return "paused"
	case ExecCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TaskStatus is the full outcome the runner reports back to whoever
// dispatched the task, a strict superset of ExecStatus.
type TaskStatus int

const (
	StatusDone TaskStatus = iota
	StatusError
	StatusCanceled
	StatusForcedAbortion
	StatusShutdown
	// StatusSuspend is never produced directly by a Task; the runner
	// upgrades an ExecPaused outcome to StatusSuspend when the pause
	// happened because the worker asked the task to get out of the way
	// for higher-priority work, rather than the task choosing to pause
	// on its own interrupt check.
	StatusSuspend
)

func (s TaskStatus) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	case StatusCanceled:
		return "canceled"
	case StatusForcedAbortion:
		return "forced-abortion"
	case StatusShutdown:
		return "shutdown"
	case StatusSuspend:
		return "suspend"
	default:
		return "unknown"
	}
}

// Priority controls queue placement relative to other pending tasks on
// the same worker. Priority tasks jump the normal queue and, when a
// Normal task is currently running with nothing else waiting to take
// its place, ask the runner to suspend it.
type Priority int

const (
	Normal Priority = iota
	PriorityHigh
)

// Task is the unit of schedulable work. Run receives the Interrupter the
// runner created for this task instance; a well-behaved Task checks it
// between chunks of work.
type Task interface {
	ID() TaskID
	Run(ctx context.Context, interrupter *Interrupter) (ExecStatus, error)
}

// Prioritized is implemented by tasks that want to run ahead of
// ordinary work.
type Prioritized interface {
	Priority() Priority
}

// Timeoutable is implemented by tasks that must be force-failed if they
// run longer than a bound, e.g. a single thumbnail render that hangs on
// a corrupt file.
type Timeoutable interface {
	Timeout() (d time.Duration, ok bool)
}

// SerializableTask is implemented by tasks that can be frozen mid-work
// (on suspend or shutdown) and rebuilt later to resume where they left
// off. ctx carries whatever out-of-band collaborators (e.g. a DbSink or
// IndexSink) the task needs that cannot themselves be serialized.
type SerializableTask interface {
	Task
	Serialize(ctx context.Context) ([]byte, error)
}

// TaskDeserializer rebuilds a SerializableTask from bytes previously
// produced by Serialize, given the same kind of out-of-band context.
type TaskDeserializer interface {
	Deserialize(ctx context.Context, data []byte) (SerializableTask, error)
}
