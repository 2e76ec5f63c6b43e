package jobsystem

import (
	"context"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

// Command is a pause/resume/cancel request sent to a running job.
type Command int

const (
	CommandPause Command = iota
	CommandResume
	CommandCancel
)

func (c Command) String() string {
	switch c {
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// JobHandle is the runner's view of one in-flight job: its own report,
// its task dispatcher, and the chain of jobs enqueued to run after it.
// Only the root job in a chain carries a non-empty nextJobs; when a
// chain link finishes, the runner swaps its own (always empty) nextJobs
// for whatever the link still had queued, so the invariant "only the
// current head of a chain holds next_jobs" keeps holding without a
// parent pointer.
type JobHandle struct {
	ID         JobID
	report     *Report
	dispatcher *TaskDispatcher
	sink       DbSink
	log        *logging.Logger

	nextJobs     []Job
	childReports []*Report

	commandsCh chan Command
}

func newJobHandle(id JobID, report *Report, dispatcher *TaskDispatcher, sink DbSink, log *logging.Logger) *JobHandle {
	return &JobHandle{
		ID:         id,
		report:     report,
		dispatcher: dispatcher,
		sink:       sink,
		log:        log.WithComponent("jobsystem.handle"),
		commandsCh: make(chan Command, 4),
	}
}

// Report returns the handle's live report; callers must not mutate it
// concurrently with RegisterStart/CompleteJob/FailedJob/CancelJob.
func (h *JobHandle) Report() *Report { return h.report }

// SendCommand best-effort delivers cmd to the job's run loop and
// cascades it to children reports immediately (the run loop itself only
// needs to see Pause/Resume/Cancel to gate its own dispatcher; child
// report bookkeeping doesn't need to wait for that).
func (h *JobHandle) SendCommand(ctx context.Context, cmd Command) error {
	select {
	case h.commandsCh <- cmd:
	default:
		h.log.Warn("command channel full, dropping", map[string]any{"job": h.ID.String(), "command": cmd.String()})
	}
	return h.commandChildren(ctx, cmd)
}

// commandChildren cascades a command to every not-yet-dispatched child
// report in this job's chain, mirroring command_children: Pause marks
// them Paused, Cancel marks them Canceled with a completion timestamp,
// Resume is a no-op since a queued child was never paused itself.
func (h *JobHandle) commandChildren(ctx context.Context, cmd Command) error {
	if cmd == CommandResume {
		return nil
	}
	for _, child := range h.childReports {
		switch cmd {
		case CommandPause:
			child.Status = StatusPaused
		case CommandCancel:
			child.Status = StatusCanceled
			ts := now().UnixMilli()
			child.CompletedAt = &ts
		}
		if err := child.Update(ctx, h.sink); err != nil {
			return err
		}
	}
	return nil
}

// RegisterStart marks the job Running and persists that, creating the
// row if it has never been persisted before or updating it otherwise,
// then creates the rows of any not-yet-created children with their
// status left as it is.
func (h *JobHandle) RegisterStart(ctx context.Context) error {
	h.report.Status = StatusRunning
	if h.report.StartedAt == nil {
		ts := now().UnixMilli()
		h.report.StartedAt = &ts
	}
	if err := h.persist(ctx, h.report); err != nil {
		return err
	}
	for _, child := range h.childReports {
		if child.CreatedAt == nil {
			if err := child.Create(ctx, h.sink); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *JobHandle) persist(ctx context.Context, r *Report) error {
	if r.CreatedAt == nil {
		return r.Create(ctx, h.sink)
	}
	return r.Update(ctx, h.sink)
}

// CompleteJob finalizes a successful run: it folds the JobReturn into
// the report (status Completed or CompletedWithErrors depending on
// whether any non-critical errors were collected) and persists it.
func (h *JobHandle) CompleteJob(ctx context.Context, ret JobReturn) error {
	h.report.Data = ret.Data
	if ret.Metadata != nil {
		if h.report.Metadata == nil {
			h.report.Metadata = map[string]any{}
		}
		for k, v := range ret.Metadata {
			h.report.Metadata[k] = v
		}
	}
	h.report.ErrorsText = append(h.report.ErrorsText, ret.NonCriticalErrors...)
	if len(ret.NonCriticalErrors) > 0 {
		h.report.Status = StatusCompletedWithErrors
	} else {
		h.report.Status = StatusCompleted
	}
	ts := now().UnixMilli()
	h.report.CompletedAt = &ts
	return h.persist(ctx, h.report)
}

// FailedJob marks the job Failed with critical error err, persists it,
// and cascades Cancel to every child (a failed chain never continues).
func (h *JobHandle) FailedJob(ctx context.Context, err error) error {
	h.report.Status = StatusFailed
	msg := err.Error()
	h.report.CriticalError = &msg
	ts := now().UnixMilli()
	h.report.CompletedAt = &ts
	if perr := h.persist(ctx, h.report); perr != nil {
		return perr
	}
	return h.commandChildren(ctx, CommandCancel)
}

// ShutdownPauseJob marks the job Paused (the shutdown-time variant of a
// user pause) and cascades Pause to children.
func (h *JobHandle) ShutdownPauseJob(ctx context.Context) error {
	h.report.Status = StatusPaused
	if err := h.persist(ctx, h.report); err != nil {
		return err
	}
	return h.commandChildren(ctx, CommandPause)
}

// CancelJob marks the job Canceled, persists it, and cascades Cancel to
// children.
func (h *JobHandle) CancelJob(ctx context.Context) error {
	h.report.Status = StatusCanceled
	ts := now().UnixMilli()
	h.report.CompletedAt = &ts
	if err := h.persist(ctx, h.report); err != nil {
		return err
	}
	return h.commandChildren(ctx, CommandCancel)
}
