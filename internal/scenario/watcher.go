package scenario

import (
	"crypto/sha256"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// Watcher polls a scenario directory and reloads it when the content of any
// scenario document changes. Invalid edits are logged and the previous
// configuration stays active.
type Watcher struct {
	fsys     fs.FS
	loader   *Loader
	interval time.Duration
	onReload func(ids []string)
	logger   *slog.Logger

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	done     chan struct{}
	stopOnce sync.Once
}

type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadHook registers a callback invoked after every successful reload.
func WithReloadHook(fn func(ids []string)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher hashes the current content of dir and starts polling it. The
// initial load is the caller's job.
func NewWatcher(dir string, loader *Loader, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	return newWatcher(os.DirFS(dir), loader, logger, opts...)
}

func newWatcher(fsys fs.FS, loader *Loader, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		fsys:     fsys,
		loader:   loader,
		interval: 5 * time.Second,
		logger:   logger.With("component", "scenario_watcher"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if hash, err := hashDir(fsys); err == nil {
		w.lastHash = hash
	} else {
		w.logger.Warn("Cannot hash scenario directory", "error", err)
	}

	go w.poll()
	return w
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the directory when its hash moved. It returns whether a
// reload happened.
func (w *Watcher) check() bool {
	hash, err := hashDir(w.fsys)
	if err != nil {
		w.logger.Warn("Cannot hash scenario directory", "error", err)
		return false
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	ids, err := w.loader.LoadFS(w.fsys)
	if err != nil {
		w.logger.Warn("Scenario reload rejected, keeping previous configuration", "error", err)
		return false
	}

	w.mu.Lock()
	w.lastHash = hash
	w.mu.Unlock()

	w.logger.Info("Scenarios reloaded", "scenarios", ids)
	if w.onReload != nil {
		w.onReload(ids)
	}
	return true
}

func hashDir(fsys fs.FS) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return zero, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isScenarioFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return zero, err
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
