package indexer

import (
	"context"
	"os"

	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

// IndexEntryTask is the leaf unit of work an IndexerJob dispatches for
// every filesystem entry it walks: stat it (already done by the
// walker) and write it through the IndexSink. It checks the
// interrupter once, since a single stat+write is already about as
// small a unit of cooperative work as is worth chunking.
type IndexEntryTask struct {
	id    tasksystem.TaskID
	entry Entry
	sink  IndexSink
}

func NewIndexEntryTask(entry Entry, sink IndexSink) *IndexEntryTask {
	return &IndexEntryTask{id: tasksystem.NewTaskID(), entry: entry, sink: sink}
}

func (t *IndexEntryTask) ID() tasksystem.TaskID { return t.id }

func (t *IndexEntryTask) Run(ctx context.Context, interrupter *tasksystem.Interrupter) (tasksystem.ExecStatus, error) {
	switch interrupter.Check() {
	case tasksystem.InterruptCancel:
		return tasksystem.ExecCanceled, nil
	case tasksystem.InterruptPause:
		return tasksystem.ExecPaused, nil
	}
	if err := t.sink.IndexEntry(ctx, t.entry); err != nil {
		return tasksystem.ExecDone, err
	}
	return tasksystem.ExecDone, nil
}

// WalkDirectoryTask lists one directory's immediate children and
// returns them to the job via resultCh, the Go analogue of
// core/src/location/indexer/walk.rs's breadth-first directory walker:
// each directory is its own task so the job can interleave indexing
// work from multiple directories across workers instead of walking
// depth-first on a single goroutine.
type WalkDirectoryTask struct {
	id       tasksystem.TaskID
	dir      string
	resultCh chan<- WalkResult
}

// WalkResult is what a WalkDirectoryTask reports back: the entries it
// found directly inside dir, and the subdirectories the job should
// dispatch further WalkDirectoryTasks for.
type WalkResult struct {
	Dir         string
	Entries     []Entry
	Subdirs     []string
	Err         error
}

func NewWalkDirectoryTask(dir string, resultCh chan<- WalkResult) *WalkDirectoryTask {
	return &WalkDirectoryTask{id: tasksystem.NewTaskID(), dir: dir, resultCh: resultCh}
}

func (t *WalkDirectoryTask) ID() tasksystem.TaskID { return t.id }

func (t *WalkDirectoryTask) Run(ctx context.Context, interrupter *tasksystem.Interrupter) (tasksystem.ExecStatus, error) {
	if interrupter.Check() == tasksystem.InterruptCancel {
		return tasksystem.ExecCanceled, nil
	}

	result := WalkResult{Dir: t.dir}
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		result.Err = err
		t.resultCh <- result
		return tasksystem.ExecDone, err
	}

	for _, de := range entries {
		if interrupter.Check() == tasksystem.InterruptCancel {
			return tasksystem.ExecCanceled, nil
		}
		full := t.dir + string(os.PathSeparator) + de.Name()
		if de.IsDir() {
			result.Subdirs = append(result.Subdirs, full)
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		result.Entries = append(result.Entries, Entry{
			Path:    full,
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   false,
		})
	}

	t.resultCh <- result
	return tasksystem.ExecDone, nil
}
