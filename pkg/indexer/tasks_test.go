package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/tasksystem"
)

type fakeSink struct {
	indexed []Entry
	removed []string
	failOn  string
}

func (s *fakeSink) IndexEntry(ctx context.Context, e Entry) error {
	if e.Path == s.failOn {
		return assert.AnError
	}
	s.indexed = append(s.indexed, e)
	return nil
}

func (s *fakeSink) RemoveEntry(ctx context.Context, path string) error {
	s.removed = append(s.removed, path)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func TestIndexEntryTaskWritesThroughSink(t *testing.T) {
	sink := &fakeSink{}
	entry := Entry{Path: "/a/b.txt", Name: "b.txt", Size: 12}
	task := NewIndexEntryTask(entry, sink)

	status, err := task.Run(context.Background(), tasksystem.NewInterrupter())
	require.NoError(t, err)
	assert.Equal(t, tasksystem.ExecDone, status)
	require.Len(t, sink.indexed, 1)
	assert.Equal(t, entry, sink.indexed[0])
}

func TestIndexEntryTaskReturnsSinkError(t *testing.T) {
	sink := &fakeSink{failOn: "/bad.txt"}
	task := NewIndexEntryTask(Entry{Path: "/bad.txt"}, sink)

	status, err := task.Run(context.Background(), tasksystem.NewInterrupter())
	assert.Error(t, err)
	assert.Equal(t, tasksystem.ExecDone, status)
}

func TestWalkDirectoryTaskListsEntriesAndSubdirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	resultCh := make(chan WalkResult, 1)
	task := NewWalkDirectoryTask(root, resultCh)

	status, err := task.Run(context.Background(), tasksystem.NewInterrupter())
	require.NoError(t, err)
	assert.Equal(t, tasksystem.ExecDone, status)

	result := <-resultCh
	assert.Equal(t, root, result.Dir)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "file.txt", result.Entries[0].Name)
	require.Len(t, result.Subdirs, 1)
	assert.Equal(t, filepath.Join(root, "sub"), result.Subdirs[0])
}

func TestWalkDirectoryTaskReportsReadError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	resultCh := make(chan WalkResult, 1)
	task := NewWalkDirectoryTask(missing, resultCh)

	_, err := task.Run(context.Background(), tasksystem.NewInterrupter())
	assert.Error(t, err)

	result := <-resultCh
	assert.Error(t, result.Err)
}
