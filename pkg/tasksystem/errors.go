package tasksystem

import "fmt"

// ErrorKind classifies a SystemError the way pkg/storage/errors.go's
// error-code constants classify a storage error: a short, stable tag
// callers can switch on instead of parsing Error() strings.
type ErrorKind string

const (
	ErrKindTimeout            ErrorKind = "timeout"
	ErrKindCanceled           ErrorKind = "canceled"
	ErrKindForcedAbortion     ErrorKind = "forced_abortion"
	ErrKindDispatch           ErrorKind = "dispatch"
	ErrKindNotFound           ErrorKind = "not_found"
	ErrKindAborted            ErrorKind = "task_aborted"
	ErrKindForcedAbortTimeout ErrorKind = "task_forced_abort_timeout"
	ErrKindJoin               ErrorKind = "task_join"
)

// SystemError wraps a lower-level cause with a stable kind tag and the
// id of the task it happened to.
type SystemError struct {
	Kind   ErrorKind
	TaskID TaskID
	Cause  error
}

func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tasksystem: %s: task %s: %v", e.Kind, e.TaskID, e.Cause)
	}
	return fmt.Sprintf("tasksystem: %s: task %s", e.Kind, e.TaskID)
}

func (e *SystemError) Unwrap() error { return e.Cause }

// NewSystemError builds a SystemError of the given kind.
func NewSystemError(kind ErrorKind, id TaskID, cause error) *SystemError {
	return &SystemError{Kind: kind, TaskID: id, Cause: cause}
}

// ErrTaskNotFound builds the ErrKindNotFound error for an id that isn't
// queued, paused, suspended, or running. The Runner's Pause, Resume and
// Cancel report a missing id through their boolean result instead.
func ErrTaskNotFound(id TaskID) error {
	return NewSystemError(ErrKindNotFound, id, nil)
}
