package location

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
)

type watchJobFakeOuter struct{}

func (watchJobFakeOuter) ID() jobsystem.CtxID          { return "fake" }
func (watchJobFakeOuter) DbSink() jobsystem.DbSink      { return nil }
func (watchJobFakeOuter) InvalidateQuery(string)        {}
func (watchJobFakeOuter) GetDataDirectory() string      { return "" }

type fakeJobContext struct {
	outer jobsystem.OuterContext
}

func (c fakeJobContext) OuterContext() jobsystem.OuterContext { return c.outer }
func (c fakeJobContext) Progress(_ []jobsystem.ProgressUpdate) {}
func (c fakeJobContext) Report() *jobsystem.Report             { return nil }

func TestWatchJobTriggersOnFilesystemChange(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	var triggered []string
	job := NewWatchJob(root, func(ctx context.Context, jc jobsystem.JobContext, changedRoot string) {
		mu.Lock()
		triggered = append(triggered, changedRoot)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan jobsystem.ReturnStatus, 1)
	go func() {
		done <- job.Run(ctx, fakeJobContext{outer: watchJobFakeOuter{}}, nil)
	}()

	// give WatchJob.Run time to build its Watcher and register root
	// before we perturb the filesystem.
	require.Eventually(t, func() bool {
		return job.watcher != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(triggered) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	status := <-done
	require.Equal(t, jobsystem.ReturnCanceled, status.Kind)
}

func TestWatchJobHash(t *testing.T) {
	a := NewWatchJob("/same/root", nil)
	b := NewWatchJob("/same/root", nil)
	c := NewWatchJob("/other/root", nil)
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
}
