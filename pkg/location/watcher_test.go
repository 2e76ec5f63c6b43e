package location

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

type changeRecorder struct {
	mu   sync.Mutex
	hits []string
}

func (r *changeRecorder) onChange(ctx context.Context, root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, root)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

func TestWatcherDebouncesBurstIntoOneTrigger(t *testing.T) {
	root := t.TempDir()
	rec := &changeRecorder{}

	w, err := NewWatcher(50*time.Millisecond, rec.onChange, logging.NewLogger(logging.DefaultConfig()))
	require.NoError(t, err)
	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte{byte(i)}, 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "a burst within the debounce window should fire only once")
}

func TestWatcherFiresAgainAfterQuietPeriod(t *testing.T) {
	root := t.TempDir()
	rec := &changeRecorder{}

	w, err := NewWatcher(30*time.Millisecond, rec.onChange, logging.NewLogger(logging.DefaultConfig()))
	require.NoError(t, err)
	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("1"), 0o644))
	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("2"), 0o644))
	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 10*time.Millisecond)
}

func TestUnwatchStopsFurtherTriggers(t *testing.T) {
	root := t.TempDir()
	rec := &changeRecorder{}

	w, err := NewWatcher(20*time.Millisecond, rec.onChange, logging.NewLogger(logging.DefaultConfig()))
	require.NoError(t, err)
	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, w.Unwatch(root))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("1"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "events after Unwatch should not trigger a re-index")
}

func TestRootForMatchesLongestWatchedPrefix(t *testing.T) {
	w := &Watcher{roots: map[string]struct{}{
		"/a":    {},
		"/a/b":  {},
		"/a/bc": {},
	}}
	assert.Equal(t, "/a/b", w.rootFor("/a/b/file.txt"))
	assert.Equal(t, "/a", w.rootFor("/a/other/file.txt"))
	assert.Equal(t, "", w.rootFor("/elsewhere/file.txt"))
}
