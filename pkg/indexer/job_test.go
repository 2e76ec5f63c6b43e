package indexer_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/dbsink"
	"github.com/entropycollective/vaultfs/pkg/indexer"
	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

type recordingSink struct {
	mu      sync.Mutex
	indexed []indexer.Entry
}

func (s *recordingSink) IndexEntry(ctx context.Context, e indexer.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, e)
	return nil
}

func (s *recordingSink) RemoveEntry(ctx context.Context, path string) error { return nil }
func (s *recordingSink) Close() error                                      { return nil }

func (s *recordingSink) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.indexed))
	for i, e := range s.indexed {
		out[i] = e.Path
	}
	return out
}

type jobFakeOuter struct {
	sink jobsystem.DbSink
	dir  string
}

func (o *jobFakeOuter) ID() jobsystem.CtxID      { return "indexer-test" }
func (o *jobFakeOuter) DbSink() jobsystem.DbSink { return o.sink }
func (o *jobFakeOuter) InvalidateQuery(string)   {}
func (o *jobFakeOuter) GetDataDirectory() string { return o.dir }

func TestJobWalksTreeAndIndexesEveryFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("1"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("2"), 0o644))

	sink := dbsink.NewMemory()
	log := logging.NewLogger(logging.DefaultConfig())
	js := jobsystem.New(2, sink, t.TempDir(), log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	js.Start(ctx)
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutCancel()
		_ = js.Shutdown(shutCtx)
	}()

	recSink := &recordingSink{}
	job := indexer.NewJob(root, recSink)
	handle, err := js.NewJob(ctx, job, jobsystem.LocationID(root), &jobFakeOuter{sink: sink, dir: root}, "index")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		report, ok := sink.Get(handle.ID)
		return ok && report.Status == jobsystem.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
	}, recSink.paths())
}

func TestJobSkipsRuledOutEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("2"), 0o644))

	sink := dbsink.NewMemory()
	log := logging.NewLogger(logging.DefaultConfig())
	js := jobsystem.New(2, sink, t.TempDir(), log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	js.Start(ctx)
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutCancel()
		_ = js.Shutdown(shutCtx)
	}()

	recSink := &recordingSink{}
	skipTmp := indexer.RuleFunc(func(path string, isDir bool) bool {
		return !isDir && filepath.Ext(path) == ".tmp"
	})
	job := indexer.NewJob(root, recSink, skipTmp)
	handle, err := js.NewJob(ctx, job, jobsystem.LocationID(root), &jobFakeOuter{sink: sink, dir: root}, "index-filtered")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		report, ok := sink.Get(handle.ID)
		return ok && report.Status == jobsystem.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{filepath.Join(root, "keep.txt")}, recSink.paths())
}
