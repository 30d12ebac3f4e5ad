package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pdsync/internal/core"
)

// DefaultSettleInterval is the write-settle interval W from spec.md §4.2.
const DefaultSettleInterval = 500 * time.Millisecond

// LiveWatcher watches a sync root for fs events via fsnotify and, per path,
// debounces them by a settle interval before emitting a single-element
// FileChange batch. It suppresses change events whose post-settle
// changeToken matches the stored FileState, so a live watcher started after
// the scan-diff pass never re-reports paths that haven't actually changed.
type LiveWatcher struct {
	fsw    *fsnotify.Watcher
	store  core.Store
	clock  core.Clock
	settle time.Duration

	syncRootID string
	rootPath   string
	ignore     *IgnoreMatcher

	batches chan []core.FileChange
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer
}

// NewLiveWatcher constructs a LiveWatcher. settle of 0 uses DefaultSettleInterval.
func NewLiveWatcher(store core.Store, clock core.Clock, settle time.Duration) (*LiveWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettleInterval
	}

	return &LiveWatcher{
		fsw:     fsw,
		store:   store,
		clock:   clock,
		settle:  settle,
		batches: make(chan []core.FileChange, 64),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
		timers:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching rootPath (and every non-ignored subdirectory) for
// fs events under syncRootID.
func (w *LiveWatcher) Start(syncRootID, rootPath string, ignore *IgnoreMatcher) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.syncRootID = syncRootID
	w.rootPath = rootPath
	w.ignore = ignore
	w.mu.Unlock()

	if err := w.addRecursive(rootPath, ignore); err != nil {
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *LiveWatcher) addRecursive(root string, ignore *IgnoreMatcher) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root {
			rel, relErr := filepath.Rel(root, p)
			if relErr == nil && ignore.Match(rel) {
				return fs.SkipDir
			}
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

// Stop stops watching and blocks until the event loop has exited.
func (w *LiveWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	close(w.done)
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("closing fsnotify watcher: %w", err)
	}
	w.wg.Wait()

	close(w.batches)
	close(w.errors)
	return nil
}

// Batches returns the channel of settled FileChange batches. Closed on Stop.
func (w *LiveWatcher) Batches() <-chan []core.FileChange { return w.batches }

// Errors returns the channel of fsnotify/stat errors. Closed on Stop.
func (w *LiveWatcher) Errors() <-chan error { return w.errors }

func (w *LiveWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *LiveWatcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.rootPath, ev.Name)
	if err != nil || w.ignore.Match(rel) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			w.fsw.Add(ev.Name)
		}
	}

	w.scheduleSettle(ev.Name)
}

func (w *LiveWatcher) scheduleSettle(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.settleFire(path) })
}

func (w *LiveWatcher) settleFire(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	w.mu.Unlock()

	change, ok, err := w.evaluate(path)
	if err != nil {
		select {
		case w.errors <- err:
		case <-w.done:
		}
		return
	}
	if !ok {
		return
	}

	select {
	case w.batches <- []core.FileChange{change}:
	case <-w.done:
	}
}

// evaluate re-stats path after settling and decides whether it implies a
// FileChange, applying the suppression rules from spec.md §4.2.
func (w *LiveWatcher) evaluate(path string) (core.FileChange, bool, error) {
	now := w.clock.Now()

	prior, known, err := w.store.GetFileState(w.syncRootID, path)
	if err != nil {
		return core.FileChange{}, false, fmt.Errorf("loading file state for %s: %w", path, err)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if !os.IsNotExist(statErr) {
			return core.FileChange{}, false, fmt.Errorf("stat %s: %w", path, statErr)
		}
		if !known {
			return core.FileChange{}, false, nil
		}
		return core.FileChange{
			SyncRootID: w.syncRootID, LocalPath: path, Exists: false,
			IsDirectory: prior.IsDirectory, ObservedAt: now,
		}, true, nil
	}

	isDir := info.IsDir()
	token := fmt.Sprintf("%d:%d", info.ModTime().UnixMilli(), info.Size())

	if !known {
		return core.FileChange{
			SyncRootID: w.syncRootID, LocalPath: path, Exists: true, New: true,
			IsDirectory: isDir, ModTimeMs: info.ModTime().UnixMilli(), Size: info.Size(), ObservedAt: now,
		}, true, nil
	}

	if isDir {
		return core.FileChange{}, false, nil
	}

	if prior.ChangeToken == token {
		return core.FileChange{}, false, nil
	}

	return core.FileChange{
		SyncRootID: w.syncRootID, LocalPath: path, Exists: true, New: false,
		IsDirectory: false, ModTimeMs: info.ModTime().UnixMilli(), Size: info.Size(), ObservedAt: now,
	}, true, nil
}
