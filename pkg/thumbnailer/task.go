// Package thumbnailer implements the batched thumbnail-generation task:
// a SerializableTask that walks a list of source files, delegates the
// actual image encoding to a ThumbnailEncoder (the external
// collaborator spec.md's "no thumbnail codec details" non-goal carves
// out), and can freeze/resume the remaining work list across a suspend
// or shutdown. Grounded on
// core/crates/heavy-lifting/src/media_processor/tasks/thumbnailer.rs's
// Thumbnailer task and core/src/object/media/thumbnail/process.rs's
// sharded output layout.
package thumbnailer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

// taskTimeout bounds the whole batch, mirroring the reference task's
// fixed five-minute with_timeout().
const taskTimeout = 5 * time.Minute

// GenerateArgs is one unit of thumbnail work: the source file, its
// content-addressed id (used to name and shard the output), and the
// extension of the source so the encoder can pick a decode path.
type GenerateArgs struct {
	CasID     string `json:"cas_id"`
	Path      string `json:"path"`
	Extension string `json:"extension"`
}

// ThumbnailEncoder performs the actual image decode+encode. It is the
// non-goal-respecting seam: this package never touches codec details.
type ThumbnailEncoder interface {
	Encode(ctx context.Context, args GenerateArgs, outputPath string) error
}

// Reporter is notified every time a thumbnail finishes, the Go
// analogue of the reference's NewThumbnailReporter trait (it feeds a
// UI "new thumbnail available" event in the original; here it is
// whatever the caller wants, typically a JobContext.Progress bridge).
type Reporter interface {
	NewThumbnail(casID string)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(casID string)

func (f ReporterFunc) NewThumbnail(casID string) { f(casID) }

// Task batches thumbnail generation for a set of files under one
// worker task: it dispatches are intentionally not split per-file (that
// would defeat batching locality), but it checks the interrupter
// between every image so a pause/cancel/suspend request is honored
// promptly rather than only at batch boundaries.
type Task struct {
	id          tasksystem.TaskID
	outputDir   string
	encoder     ThumbnailEncoder
	reporter    Reporter
	priority    bool
	remaining   []GenerateArgs
	done        []string
}

// New builds a Task for the given batch, handing the encoder output
// paths of the form <cas_id>.webp under outputDir, sharded by
// the first two hex characters of each CasID as process.rs does.
func New(outputDir string, batch []GenerateArgs, encoder ThumbnailEncoder, reporter Reporter, priority bool) *Task {
	return &Task{
		id:        tasksystem.NewTaskID(),
		outputDir: outputDir,
		encoder:   encoder,
		reporter:  reporter,
		priority:  priority,
		remaining: batch,
	}
}

func (t *Task) ID() tasksystem.TaskID { return t.id }

func (t *Task) Priority() tasksystem.Priority {
	if t.priority {
		return tasksystem.PriorityHigh
	}
	return tasksystem.Normal
}

func (t *Task) Timeout() (time.Duration, bool) { return taskTimeout, true }

// shardPath mirrors process.rs's <cas_id>[0..2]/<cas_id>.webp sharding.
func (t *Task) shardPath(casID string) string {
	shard := casID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(t.outputDir, shard, casID+".webp")
}

func (t *Task) Run(ctx context.Context, interrupter *tasksystem.Interrupter) (tasksystem.ExecStatus, error) {
	for len(t.remaining) > 0 {
		switch interrupter.Check() {
		case tasksystem.InterruptCancel:
			return tasksystem.ExecCanceled, nil
		case tasksystem.InterruptPause:
			return tasksystem.ExecPaused, nil
		}

		args := t.remaining[0]
		out := t.shardPath(args.CasID)
		if err := t.encoder.Encode(ctx, args, out); err != nil {
			return tasksystem.ExecDone, fmt.Errorf("thumbnailer: encode %s: %w", args.CasID, err)
		}

		t.remaining = t.remaining[1:]
		t.done = append(t.done, args.CasID)
		if t.reporter != nil {
			t.reporter.NewThumbnail(args.CasID)
		}
	}
	return tasksystem.ExecDone, nil
}

// serializedTask is the on-the-wire shape Serialize/Deserialize use:
// only the remaining work survives a suspend/shutdown, the already-
// generated thumbnails need no replay.
type serializedTask struct {
	OutputDir string         `json:"output_dir"`
	Priority  bool           `json:"priority"`
	Remaining []GenerateArgs `json:"remaining"`
}

// Serialize freezes the remaining batch (already-completed entries are
// dropped, matching the reference task's already_processed_ids split).
func (t *Task) Serialize(ctx context.Context) ([]byte, error) {
	return json.Marshal(serializedTask{
		OutputDir: t.outputDir,
		Priority:  t.priority,
		Remaining: t.remaining,
	})
}

// DeserializeCtx carries the out-of-band collaborators a resumed Task
// needs that cannot themselves round-trip through JSON.
type DeserializeCtx struct {
	Encoder  ThumbnailEncoder
	Reporter Reporter
}

// Deserialize rebuilds a Task from bytes Serialize produced, given a
// fresh encoder/reporter pair (these are process collaborators, not
// data, so they are supplied again rather than round-tripped).
func Deserialize(ctx context.Context, data []byte, dctx DeserializeCtx) (*Task, error) {
	var st serializedTask
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("thumbnailer: deserialize: %w", err)
	}
	return &Task{
		id:        tasksystem.NewTaskID(),
		outputDir: st.OutputDir,
		encoder:   dctx.Encoder,
		reporter:  dctx.Reporter,
		priority:  st.Priority,
		remaining: st.Remaining,
	}, nil
}
