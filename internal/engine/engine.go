// Package engine wires the Watcher (C2), Classifier (C3), Job Queue (C4)
// and Processor (C5) into the long-running control loop (C7): one scan or
// live-watch pass per configured sync root feeds the classifier, the
// classifier's jobs feed the processor, and the processor's outcomes feed
// back through the queue. Engine also owns the signal queue consumer
// (stop/pause/resume/reload) and the startup-recovery call that must run
// once before the Processor begins claiming.
package engine

import (
	"context"
	"fmt"
	"time"

	"pdsync/internal/classify"
	"pdsync/internal/core"
	"pdsync/internal/model"
	"pdsync/internal/processor"
	"pdsync/internal/watcher"
)

// DefaultSignalPollInterval is how often the signal queue is drained.
const DefaultSignalPollInterval = 500 * time.Millisecond

// SyncRoot is one configured `sync_dirs` entry, resolved to an absolute
// local path and a stable identifier.
type SyncRoot struct {
	ID         string
	LocalPath  string
	RemoteRoot string
	Ignore     *watcher.IgnoreMatcher
}

// Options configures an Engine at construction.
type Options struct {
	// NoWatch disables the live fsnotify watcher; only the startup scan
	// runs. Equivalent to `start --no-watch`.
	NoWatch bool
	// DryRun suppresses all writes: scans and live-watch batches are still
	// read and their changes counted for logging, but they are not
	// classified and nothing is enqueued; Run also skips startup recovery
	// and never starts the Processor, so no state-store or network writes
	// happen.
	DryRun bool
	// Paused starts the processor with next_ready() disabled.
	Paused bool

	SignalPollInterval time.Duration
}

// Engine is the long-running control loop described by spec.md §5/§6.
type Engine struct {
	store  core.Store
	client core.Client
	clock  core.Clock
	logger core.Logger

	roots        []SyncRoot
	classifier   *classify.Classifier
	processor    *processor.Processor
	liveWatchers []*watcher.LiveWatcher

	opts Options
}

// New constructs an Engine. roots must be non-empty and already validated
// (no overlapping/nested local paths — see internal/config).
func New(store core.Store, client core.Client, clock core.Clock, logger core.Logger, roots []SyncRoot, proc *processor.Processor, opts Options) (*Engine, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("engine: at least one sync root is required")
	}
	if opts.SignalPollInterval <= 0 {
		opts.SignalPollInterval = DefaultSignalPollInterval
	}
	if opts.Paused {
		proc.Pause()
	}

	return &Engine{
		store:      store,
		client:     client,
		clock:      clock,
		logger:     logger,
		roots:      roots,
		classifier: classify.New(store, clock, 0),
		processor:  proc,
		opts:       opts,
	}, nil
}

// Run drives the engine until ctx is cancelled or a "stop" signal is
// consumed from the store's signal queue, then drains the processor and
// stops any live watchers before returning.
func (e *Engine) Run(ctx context.Context) error {
	var n int
	var err error
	if !e.opts.DryRun {
		n, err = e.store.StartupRecovery(e.clock.Now())
	}
	if err != nil {
		return fmt.Errorf("engine: startup recovery: %w", err)
	}
	if n > 0 {
		e.logger.Info("startup recovery requeued jobs", "count", n)
	}

	for _, root := range e.roots {
		if err := e.scanRoot(root); err != nil {
			return fmt.Errorf("engine: initial scan of %s: %w", root.LocalPath, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	procErrCh := make(chan error, 1)
	if e.opts.DryRun {
		procErrCh <- nil
	} else {
		go func() { procErrCh <- e.processor.Run(runCtx) }()
	}

	if !e.opts.NoWatch {
		if err := e.startLiveWatchers(); err != nil {
			cancel()
			<-procErrCh
			return fmt.Errorf("engine: starting live watchers: %w", err)
		}
	}

	err = e.consumeSignals(ctx, cancel)
	e.stopLiveWatchers()
	procErr := <-procErrCh

	if err != nil {
		return err
	}
	return procErr
}

// scanRoot runs the scan-diff pass for one root and, unless DryRun,
// classifies the results into persisted jobs.
func (e *Engine) scanRoot(root SyncRoot) error {
	scanner := watcher.NewScanner(e.store, e.clock)
	changes, err := scanner.Scan(root.ID, root.LocalPath, root.Ignore)
	if err != nil {
		return err
	}
	e.logger.Info("scan complete", "root", root.ID, "changes", len(changes))
	if e.opts.DryRun || len(changes) == 0 {
		return nil
	}

	ids, err := e.classifier.Classify(root.ID, root.LocalPath, root.RemoteRoot, changes)
	if err != nil {
		return err
	}
	e.logger.Info("scan classified", "root", root.ID, "jobs", len(ids))
	return nil
}

func (e *Engine) startLiveWatchers() error {
	for _, root := range e.roots {
		lw, err := watcher.NewLiveWatcher(e.store, e.clock, 0)
		if err != nil {
			return err
		}
		if err := lw.Start(root.ID, root.LocalPath, root.Ignore); err != nil {
			return fmt.Errorf("watching %s: %w", root.LocalPath, err)
		}
		e.liveWatchers = append(e.liveWatchers, lw)
		go e.drainLiveWatcher(root, lw)
	}
	return nil
}

func (e *Engine) stopLiveWatchers() {
	for _, lw := range e.liveWatchers {
		if err := lw.Stop(); err != nil {
			e.logger.Error("stopping live watcher", "error", err)
		}
	}
	e.liveWatchers = nil
}

// drainLiveWatcher classifies settled batches as they arrive, honoring
// DryRun the same way scanRoot does. Runs until the watcher's channels
// close on Stop.
func (e *Engine) drainLiveWatcher(root SyncRoot, lw *watcher.LiveWatcher) {
	for {
		select {
		case changes, ok := <-lw.Batches():
			if !ok {
				return
			}
			if e.opts.DryRun {
				continue
			}
			if _, err := e.classifier.Classify(root.ID, root.LocalPath, root.RemoteRoot, changes); err != nil {
				e.logger.Error("classifying live batch", "root", root.ID, "error", err)
			}
		case err, ok := <-lw.Errors():
			if !ok {
				return
			}
			e.logger.Error("watcher error", "root", root.ID, "error", err)
		}
	}
}

// consumeSignals polls the signal queue at SignalPollInterval until ctx is
// cancelled or a "stop" signal is popped, calling cancelRun to tear down
// the processor and watchers in either case.
func (e *Engine) consumeSignals(ctx context.Context, cancelRun context.CancelFunc) error {
	ticker := time.NewTicker(e.opts.SignalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelRun()
			return nil
		case <-ticker.C:
			stop, err := e.drainSignals()
			if err != nil {
				e.logger.Error("draining signal queue", "error", err)
				continue
			}
			if stop {
				cancelRun()
				return nil
			}
		}
	}
}

// drainSignals pops every pending signal, applying each in turn, and
// reports whether a stop signal was seen.
func (e *Engine) drainSignals() (bool, error) {
	for {
		tag, ok, err := e.store.PopSignal()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}

		switch tag {
		case model.SignalStop:
			return true, nil
		case model.SignalPause:
			e.processor.Pause()
			e.logger.Info("paused")
		case model.SignalResume:
			e.processor.Resume()
			e.logger.Info("resumed")
		case model.SignalReload:
			for _, root := range e.roots {
				if err := e.scanRoot(root); err != nil {
					e.logger.Error("reload scan failed", "root", root.ID, "error", err)
				}
			}
		default:
			e.logger.Warn("unknown signal", "tag", string(tag))
		}
	}
}
