package jobsystem

import (
	"context"
	"fmt"
)

// Status is a Report's lifecycle stage, carrying the same explicit
// discriminants as the reference system so a persisted integer stays
// stable across versions.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCompleted
	StatusCanceled
	StatusFailed
	StatusPaused
	StatusCompletedWithErrors
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusPaused:
		return "paused"
	case StatusCompletedWithErrors:
		return "completed_with_errors"
	default:
		return "unknown"
	}
}

// IsFinished reports whether a Report's Status is terminal: nothing
// further will run on this job without an explicit resume/resubmit.
func (s Status) IsFinished() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed, StatusPaused, StatusCompletedWithErrors:
		return true
	default:
		return false
	}
}

// Report is a job's persistent progress record: everything a DbSink
// needs to create or update a single row, and everything a caller
// needs to show "what is this job doing right now".
type Report struct {
	ID       JobID
	Name     JobName
	Action   string
	Data     []byte
	Metadata map[string]any

	ErrorsText    []string
	CriticalError *string

	CreatedAt   *int64 // unix millis; nil until first persisted
	StartedAt   *int64
	CompletedAt *int64

	ParentID *JobID
	Status   Status

	TaskCount          int32
	CompletedTaskCount int32

	Phase   string
	Message string

	// EstimatedCompletion is a unix-millis projection of when the job
	// will finish, derived from completed/total task counts; nil until
	// enough progress has been reported to estimate a rate.
	EstimatedCompletion *int64
}

// estimateCompletion projects a unix-millis completion time from elapsed
// time and task-count progress: now + (elapsed / completed) * remaining.
// It returns nil unless there is a start time, at least one completed
// task to derive a rate from, and at least one task still remaining.
func (r *Report) estimateCompletion() *int64 {
	if r.StartedAt == nil || r.CompletedTaskCount <= 0 || r.TaskCount <= r.CompletedTaskCount {
		return nil
	}
	elapsed := now().UnixMilli() - *r.StartedAt
	if elapsed <= 0 {
		return nil
	}
	remaining := int64(r.TaskCount - r.CompletedTaskCount)
	perTask := elapsed / int64(r.CompletedTaskCount)
	eta := now().UnixMilli() + perTask*remaining
	return &eta
}

func (r *Report) String() string {
	return fmt.Sprintf("Job<name=%q id=%s> %s", r.Name, r.ID, r.Status)
}

// ReportBuilder assembles a fresh Report the way the reference system's
// builder does.
type ReportBuilder struct {
	r Report
}

func NewReport(id JobID, name JobName) *ReportBuilder {
	return &ReportBuilder{r: Report{ID: id, Name: name, Status: StatusQueued}}
}

func (b *ReportBuilder) WithAction(action string) *ReportBuilder {
	b.r.Action = action
	return b
}

func (b *ReportBuilder) WithMetadata(meta map[string]any) *ReportBuilder {
	b.r.Metadata = meta
	return b
}

func (b *ReportBuilder) WithParentID(parent JobID) *ReportBuilder {
	b.r.ParentID = &parent
	return b
}

func (b *ReportBuilder) Build() *Report {
	r := b.r
	return &r
}

// Create persists a brand-new Report via sink and stamps CreatedAt only
// once the write succeeds, the same ordering the reference report.rs
// relies on to distinguish "never persisted" from "needs an update" in
// JobHandle.RegisterStart.
func (r *Report) Create(ctx context.Context, sink DbSink) error {
	if err := sink.CreateReport(ctx, r); err != nil {
		return fmt.Errorf("jobsystem: create report %s: %w", r.ID, err)
	}
	ts := now().UnixMilli()
	r.CreatedAt = &ts
	return nil
}

// Update persists the current state of an already-created Report.
func (r *Report) Update(ctx context.Context, sink DbSink) error {
	if err := sink.UpdateReport(ctx, r); err != nil {
		return fmt.Errorf("jobsystem: update report %s: %w", r.ID, err)
	}
	return nil
}
