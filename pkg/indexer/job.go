package indexer

import (
	"context"
	"sync"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

// Rule filters entries and subdirectories out of an index walk, the
// pluggable "indexer rules" external collaborator spec.md §1 carves
// out explicitly (no rule engine is specified here).
type Rule interface {
	// Skip reports whether path (a file or directory) should be
	// excluded from indexing and, for directories, from further
	// walking.
	Skip(path string, isDir bool) bool
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(path string, isDir bool) bool

func (f RuleFunc) Skip(path string, isDir bool) bool { return f(path, isDir) }

// Job walks a location root, dispatching a WalkDirectoryTask per
// directory and an IndexEntryTask per file, folding progress into the
// owning Report as it goes. Grounded on
// core/src/location/indexer/walk.rs's breadth-first walker plus
// job_system/job.rs's ProgressUpdate-driven FileIdentifier job.
type Job struct {
	Root  string
	Sink  IndexSink
	Rules []Rule
}

func NewJob(root string, sink IndexSink, rules ...Rule) *Job {
	return &Job{Root: root, Sink: sink, Rules: rules}
}

func (j *Job) Name() jobsystem.JobName { return jobsystem.JobNameIndexer }

func (j *Job) Hash() uint64 {
	return jobsystem.HashJobKey(jobsystem.JobNameIndexer, j.Root)
}

func (j *Job) skip(path string, isDir bool) bool {
	for _, r := range j.Rules {
		if r.Skip(path, isDir) {
			return true
		}
	}
	return false
}

func (j *Job) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	resultCh := make(chan WalkResult, 16)

	var mu sync.Mutex
	pendingWalks := 0
	filesIndexed := int32(0)
	nonCritical := []string{}

	dispatchWalk := func(dir string) error {
		mu.Lock()
		pendingWalks++
		mu.Unlock()
		_, err := dispatcher.Dispatch(ctx, NewWalkDirectoryTask(dir, resultCh), tasksystem.Normal)
		return err
	}

	if err := dispatchWalk(j.Root); err != nil {
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnErrored, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
		case result := <-resultCh:
			mu.Lock()
			pendingWalks--
			done := pendingWalks == 0
			mu.Unlock()

			if result.Err != nil {
				nonCritical = append(nonCritical, result.Err.Error())
			}

			for _, sub := range result.Subdirs {
				if j.skip(sub, true) {
					continue
				}
				if err := dispatchWalk(sub); err != nil {
					nonCritical = append(nonCritical, err.Error())
				} else {
					done = false
				}
			}

			handles := make([]*tasksystem.TaskHandle, 0, len(result.Entries))
			for _, e := range result.Entries {
				if j.skip(e.Path, false) {
					continue
				}
				h, err := dispatcher.Dispatch(ctx, NewIndexEntryTask(e, j.Sink), tasksystem.Normal)
				if err != nil {
					nonCritical = append(nonCritical, err.Error())
					continue
				}
				handles = append(handles, h)
			}
			for _, h := range handles {
				outcome, err := h.Done(ctx)
				if err != nil {
					nonCritical = append(nonCritical, err.Error())
					continue
				}
				if outcome.Status == tasksystem.StatusError {
					nonCritical = append(nonCritical, outcome.Err.Error())
					continue
				}
				filesIndexed++
			}

			jc.Progress([]jobsystem.ProgressUpdate{
				jobsystem.ProgressMessage("indexed " + result.Dir),
			})

			if done {
				ret := jobsystem.NewJobReturn().
					WithMetadata(map[string]any{"files_indexed": filesIndexed, "root": j.Root}).
					WithNonCriticalErrors(nonCritical).
					Build()
				return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCompleted, Return: &ret}
			}
		}
	}
}
