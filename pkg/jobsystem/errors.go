package jobsystem

import "fmt"

// ErrorKind classifies a JobSystemError, following the same tagged-error
// shape as pkg/storage/errors.go's error codes.
type ErrorKind string

const (
	ErrKindAlreadyRunning ErrorKind = "already_running"
	ErrKindNotFound       ErrorKind = "not_found"
	ErrKindCanceled       ErrorKind = "canceled"
	ErrKindPersist        ErrorKind = "persist"
)

// JobSystemError wraps a lower-level cause with a stable kind tag.
type JobSystemError struct {
	Kind  ErrorKind
	JobID JobID
	Cause error
}

func (e *JobSystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jobsystem: %s: job %s: %v", e.Kind, e.JobID, e.Cause)
	}
	return fmt.Sprintf("jobsystem: %s: job %s", e.Kind, e.JobID)
}

func (e *JobSystemError) Unwrap() error { return e.Cause }

// AlreadyRunningError is returned by NewJob when a job's hash matches one
// already in flight; AlreadyRunningID names the job that won the race.
type AlreadyRunningError struct {
	NewID           JobID
	AlreadyRunningID JobID
	Name            JobName
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("jobsystem: job %s (%s) already running as %s", e.NewID, e.Name, e.AlreadyRunningID)
}

// ErrJobNotFound builds the not-found error for command/report lookups.
func ErrJobNotFound(id JobID) error {
	return &JobSystemError{Kind: ErrKindNotFound, JobID: id}
}
