// Package location watches indexed directory trees for filesystem
// changes and turns bursts of change events into debounced re-index
// job submissions, the Go-native analogue of
// core/src/location/manager/watcher/macos.rs's FSEvents-driven rescan
// trigger.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/entropycollective/vaultfs/pkg/logging"
)

// ReindexFunc is called, at most once per debounce window per root,
// when one or more filesystem events were observed under root.
type ReindexFunc func(ctx context.Context, root string)

// Watcher owns one fsnotify watcher shared across every watched root
// and debounces bursts of events (a save, a move, a batch copy) into a
// single re-index trigger per root.
type Watcher struct {
	log     *logging.Logger
	fsw     *fsnotify.Watcher
	debounce time.Duration
	onChange ReindexFunc

	mu      sync.Mutex
	roots   map[string]struct{}
	timers  map[string]*time.Timer
	pending map[string]bool
}

// NewWatcher builds a Watcher that calls onChange no more than once per
// debounce window for a given root once events stop arriving for it.
func NewWatcher(debounce time.Duration, onChange ReindexFunc, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		log:      log.WithComponent("location.watcher"),
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		roots:    make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]bool),
	}, nil
}

// Watch adds root to the set of watched directories. It is not
// recursive beyond what fsnotify.Add itself watches; callers add every
// subdirectory they want covered (mirroring the reference indexer's own
// walk-and-subscribe approach).
func (w *Watcher) Watch(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[root] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Unwatch stops watching root and cancels any pending debounce timer
// for it.
func (w *Watcher) Unwatch(root string) error {
	w.mu.Lock()
	delete(w.roots, root)
	if t, ok := w.timers[root]; ok {
		t.Stop()
		delete(w.timers, root)
	}
	delete(w.pending, root)
	w.mu.Unlock()
	return w.fsw.Remove(root)
}

// Run drives the fsnotify event loop until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	root := w.rootFor(event.Name)
	if root == "" {
		return
	}

	w.mu.Lock()
	if t, ok := w.timers[root]; ok {
		t.Stop()
	}
	w.pending[root] = true
	w.timers[root] = time.AfterFunc(w.debounce, func() { w.fire(ctx, root) })
	w.mu.Unlock()
}

func (w *Watcher) fire(ctx context.Context, root string) {
	w.mu.Lock()
	if !w.pending[root] {
		w.mu.Unlock()
		return
	}
	w.pending[root] = false
	delete(w.timers, root)
	w.mu.Unlock()

	w.log.Debug("debounced change, triggering re-index", map[string]interface{}{"root": root})
	w.onChange(ctx, root)
}

// rootFor returns the longest watched root that is a prefix of path, or
// "" if none matches (an event fsnotify delivered for a path we've
// since unwatched).
func (w *Watcher) rootFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := ""
	for root := range w.roots {
		if len(root) > len(best) && hasPrefixPath(path, root) {
			best = root
		}
	}
	return best
}

func hasPrefixPath(path, root string) bool {
	if len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}

// Close releases the underlying fsnotify watcher immediately, without
// waiting for Run's ctx to cancel.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
