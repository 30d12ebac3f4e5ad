// Package processor implements the Processor (C5): a bounded pool of
// workers that claim jobs from the Job Queue and execute the per-event-kind
// algorithm from spec.md §4.5 against the DriveClient.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdsync/internal/core"
	"pdsync/internal/model"
	"pdsync/internal/queue"
)

const (
	// DefaultConcurrency is K from spec.md §4.5.
	DefaultConcurrency = 8
	// DefaultTick is the control loop's polling interval.
	DefaultTick = time.Second
	// DefaultShutdownTimeout is T from spec.md §5: how long Run, after its
	// context is cancelled, waits for in-flight tasks before returning.
	DefaultShutdownTimeout = 30 * time.Second

	jsonCallTimeout   = 30 * time.Second
	binaryCallTimeout = 60 * time.Second
)

// clientStateError marks a failure that must be classified CLIENT_STATE
// (missing NodeMapping for a rename/move target) regardless of what
// classify() would otherwise infer from the error text.
type clientStateError struct{ msg string }

func (e *clientStateError) Error() string { return e.msg }

func newClientStateError(format string, args ...any) error {
	return &clientStateError{msg: fmt.Sprintf(format, args...)}
}

// Processor runs the bounded worker pool described in spec.md §4.5.
type Processor struct {
	store  core.Store
	client core.Client
	clock  core.Clock
	logger core.Logger

	concurrency     int
	tick            time.Duration
	shutdownTimeout time.Duration

	sem    chan struct{}
	wg     sync.WaitGroup
	paused boolFlag
}

// Option configures a Processor at construction.
type Option func(*Processor)

func WithConcurrency(n int) Option { return func(p *Processor) { p.concurrency = n } }
func WithTick(d time.Duration) Option { return func(p *Processor) { p.tick = d } }
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Processor) { p.shutdownTimeout = d }
}
func WithLogger(l core.Logger) Option { return func(p *Processor) { p.logger = l } }
func WithPaused(paused bool) Option {
	return func(p *Processor) { p.paused.set(paused) }
}

// New constructs a Processor. store and client must be non-nil.
func New(store core.Store, client core.Client, clock core.Clock, opts ...Option) *Processor {
	p := &Processor{
		store:           store,
		client:          client,
		clock:           clock,
		logger:          core.NewNopLogger(),
		concurrency:     DefaultConcurrency,
		tick:            DefaultTick,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = make(chan struct{}, p.concurrency)
	return p
}

// Pause stops new jobs from being claimed; running tasks continue to
// completion (spec.md §5).
func (p *Processor) Pause() { p.paused.set(true) }

// Resume allows next_ready() to be called again on the next tick.
func (p *Processor) Resume() { p.paused.set(false) }

// Paused reports the current pause state.
func (p *Processor) Paused() bool { return p.paused.get() }

// Run drives the control loop until ctx is cancelled, then waits up to
// shutdownTimeout for in-flight tasks before returning. Uncompleted tasks'
// rows remain PROCESSING; the next StartupRecovery call resets them.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.drain()
		case <-ticker.C:
			p.fill()
		}
	}
}

func (p *Processor) drain() error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.shutdownTimeout):
		return fmt.Errorf("processor: %d task(s) still in flight after %s shutdown timeout", p.inFlight(), p.shutdownTimeout)
	}
}

func (p *Processor) inFlight() int { return len(p.sem) }

// fill claims and spawns tasks until the pool is full or the queue is dry.
func (p *Processor) fill() {
	if p.paused.get() {
		return
	}
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return // pool full
		}

		job, ok, err := p.store.ClaimNext(p.clock.Now())
		if err != nil {
			p.logger.Error("claim failed", "error", err)
			<-p.sem
			return
		}
		if !ok {
			<-p.sem
			return
		}

		p.wg.Add(1)
		go func(job *model.SyncJob) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.runTask(job)
		}(job)
	}
}

func (p *Processor) runTask(job *model.SyncJob) {
	err := p.dispatch(job)
	if err == nil {
		p.logger.Info("job synced", "id", job.ID, "path", job.LocalPath, "event", string(job.EventType))
		return
	}

	var cse *clientStateError
	class := classify(err)
	if errors.As(err, &cse) {
		class = model.ErrClientState
	}

	outcome, hErr := queue.Handle(p.store, p.clock, job, class, err, 0)
	if hErr != nil {
		p.logger.Error("queue.Handle failed", "id", job.ID, "error", hErr)
		return
	}
	p.logger.Warn("job failed", "id", job.ID, "path", job.LocalPath, "class", string(class), "outcome", string(outcome), "error", err.Error())
}

func (p *Processor) dispatch(job *model.SyncJob) error {
	switch job.EventType {
	case model.EventCreate, model.EventUpdate:
		if job.IsDirectory {
			return p.createDirectory(job)
		}
		return p.uploadAndComplete(job)
	case model.EventDelete:
		return p.delete(job)
	case model.EventRename:
		return p.rename(job)
	case model.EventMove:
		return p.move(job)
	case model.EventDeleteAndCreate:
		return p.deleteAndCreate(job)
	default:
		return fmt.Errorf("processor: unknown event type %q", job.EventType)
	}
}

// ensureAncestors walks remotePath's parent segments from the drive root,
// reusing existing folders and creating the rest in order, and returns the
// immediate parent's node uid. Only the segments before the final path
// element are considered; the leaf itself is created by the caller.
func (p *Processor) ensureAncestors(remotePath string) (string, error) {
	clean := strings.Trim(filepath.ToSlash(remotePath), "/")
	var segments []string
	if clean != "" {
		segments = strings.Split(clean, "/")
	}

	parent, err := withTimeoutT(jsonCallTimeout, func() (string, error) { return p.client.GetRootFolder() })
	if err != nil {
		return "", fmt.Errorf("resolving drive root: %w", err)
	}
	if len(segments) <= 1 {
		return parent, nil
	}

	for _, seg := range segments[:len(segments)-1] {
		children, err := withTimeoutT(jsonCallTimeout, func() ([]core.ChildEntry, error) { return p.client.IterateChildren(parent) })
		if err != nil {
			return "", fmt.Errorf("listing children of %s: %w", parent, err)
		}
		found := ""
		for _, c := range children {
			if c.IsDirectory && c.Name == seg {
				found = c.UID
				break
			}
		}
		if found == "" {
			found, err = withTimeoutT(jsonCallTimeout, func() (string, error) {
				return p.client.CreateFolder(parent, seg, p.clock.Now().UnixMilli())
			})
			if err != nil {
				return "", fmt.Errorf("creating ancestor folder %s: %w", seg, err)
			}
		}
		parent = found
	}
	return parent, nil
}

func (p *Processor) findChild(parentUID, name string, wantDir bool) (*core.ChildEntry, error) {
	children, err := withTimeoutT(jsonCallTimeout, func() ([]core.ChildEntry, error) { return p.client.IterateChildren(parentUID) })
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", parentUID, err)
	}
	for i := range children {
		if children[i].Name == name && children[i].IsDirectory == wantDir {
			return &children[i], nil
		}
	}
	return nil, nil
}

func (p *Processor) uploadAndComplete(job *model.SyncJob) error {
	parentUID, err := p.ensureAncestors(job.RemotePath)
	if err != nil {
		return err
	}
	name := filepath.Base(job.RemotePath)

	existing, err := p.findChild(parentUID, name, false)
	if err != nil {
		return err
	}

	if existing != nil && job.ContentHash != "" && strings.EqualFold(existing.ActiveRevisionSHA1, job.ContentHash) {
		return p.completeUpload(job, existing.UID, parentUID)
	}

	info, statErr := os.Stat(job.LocalPath)
	if statErr != nil {
		return fmt.Errorf("stat %s before upload: %w", job.LocalPath, statErr)
	}
	meta := core.UploadMeta{ModTime: info.ModTime().UnixMilli(), Size: info.Size()}

	var nodeUID string
	if existing != nil {
		nodeUID, err = withTimeoutT(binaryCallTimeout, func() (string, error) {
			f, openErr := os.Open(job.LocalPath)
			if openErr != nil {
				return "", openErr
			}
			defer f.Close()
			return p.client.UploadRevision(existing.UID, meta, f)
		})
	} else {
		nodeUID, err = withTimeoutT(binaryCallTimeout, func() (string, error) {
			f, openErr := os.Open(job.LocalPath)
			if openErr != nil {
				return "", openErr
			}
			defer f.Close()
			return p.client.UploadFile(parentUID, name, meta, f)
		})
	}
	if err != nil {
		return fmt.Errorf("uploading %s: %w", job.LocalPath, err)
	}
	return p.completeUpload(job, nodeUID, parentUID)
}

func (p *Processor) completeUpload(job *model.SyncJob, nodeUID, parentUID string) error {
	nm := &model.NodeMapping{SyncRootID: job.SyncRootID, LocalPath: job.LocalPath, NodeUID: nodeUID, ParentNodeUID: parentUID, IsDirectory: false}
	fh := &model.FileHash{SyncRootID: job.SyncRootID, LocalPath: job.LocalPath, ContentHash: job.ContentHash}
	st, err := fileStateFor(job.SyncRootID, job.LocalPath, false)
	if err != nil {
		return err
	}
	return p.store.CompleteJob(job.ID, nm, fh, st)
}

func (p *Processor) createDirectory(job *model.SyncJob) error {
	parentUID, err := p.ensureAncestors(job.RemotePath)
	if err != nil {
		return err
	}
	name := filepath.Base(job.RemotePath)

	existing, err := p.findChild(parentUID, name, true)
	if err != nil {
		return err
	}

	uid := ""
	if existing != nil {
		uid = existing.UID
	} else {
		mtime := p.clock.Now().UnixMilli()
		if info, statErr := os.Stat(job.LocalPath); statErr == nil {
			mtime = info.ModTime().UnixMilli()
		}
		uid, err = withTimeoutT(jsonCallTimeout, func() (string, error) { return p.client.CreateFolder(parentUID, name, mtime) })
		if err != nil {
			return fmt.Errorf("creating folder %s: %w", job.RemotePath, err)
		}
	}

	nm := &model.NodeMapping{SyncRootID: job.SyncRootID, LocalPath: job.LocalPath, NodeUID: uid, ParentNodeUID: parentUID, IsDirectory: true}
	st, err := fileStateFor(job.SyncRootID, job.LocalPath, true)
	if err != nil {
		return err
	}
	return p.store.CompleteJob(job.ID, nm, nil, st)
}

func (p *Processor) delete(job *model.SyncJob) error {
	nm, ok, err := p.store.GetNodeMapping(job.SyncRootID, job.LocalPath)
	if err != nil {
		return err
	}
	if ok {
		if err := p.trashAndDelete(nm.NodeUID); err != nil {
			return err
		}
		return p.store.CompleteDelete(job.ID, job.SyncRootID, job.LocalPath)
	}

	// No NodeMapping — e.g. after a partial state-store reset, or a race
	// with a not-yet-completed CREATE. spec.md §4.5 requires resolving
	// oldRemotePath via NodeMapping or by walking by name; fall back to
	// walking the remote tree so an orphaned remote object isn't left
	// behind just because the local mapping was lost.
	parentUID, found, err := p.resolveRemoteParent(job.RemotePath)
	if err != nil {
		return err
	}
	if found {
		child, err := p.findChild(parentUID, filepath.Base(job.RemotePath), job.IsDirectory)
		if err != nil {
			return err
		}
		if child != nil {
			if err := p.trashAndDelete(child.UID); err != nil {
				return err
			}
		}
	}
	return p.store.CompleteDelete(job.ID, job.SyncRootID, job.LocalPath)
}

// resolveRemoteParent walks remotePath's parent segments from the drive
// root, like ensureAncestors, but never creates a missing folder: it
// reports found=false as soon as a segment doesn't exist. Used by delete's
// walk-by-name fallback, where creating a folder just to discover there is
// nothing to delete under it would be wrong.
func (p *Processor) resolveRemoteParent(remotePath string) (parentUID string, found bool, err error) {
	clean := strings.Trim(filepath.ToSlash(remotePath), "/")
	var segments []string
	if clean != "" {
		segments = strings.Split(clean, "/")
	}

	parent, err := withTimeoutT(jsonCallTimeout, func() (string, error) { return p.client.GetRootFolder() })
	if err != nil {
		return "", false, fmt.Errorf("resolving drive root: %w", err)
	}
	if len(segments) <= 1 {
		return parent, true, nil
	}

	for _, seg := range segments[:len(segments)-1] {
		child, err := p.findChild(parent, seg, true)
		if err != nil {
			return "", false, err
		}
		if child == nil {
			return "", false, nil
		}
		parent = child.UID
	}
	return parent, true, nil
}

// trashAndDelete tolerates NotFound per-item results from either call,
// matching spec.md §4.5's "treat as success (idempotent)" / "tolerate
// already trashed" contract.
func (p *Processor) trashAndDelete(uid string) error {
	trashed, err := withTimeoutT(jsonCallTimeout, func() ([]core.ItemResult, error) { return p.client.Trash([]string{uid}) })
	if err != nil {
		return fmt.Errorf("trashing %s: %w", uid, err)
	}
	if err := firstRealError(trashed); err != nil {
		return fmt.Errorf("trashing %s: %w", uid, err)
	}

	deleted, err := withTimeoutT(jsonCallTimeout, func() ([]core.ItemResult, error) { return p.client.Delete([]string{uid}) })
	if err != nil {
		return fmt.Errorf("deleting %s: %w", uid, err)
	}
	if err := firstRealError(deleted); err != nil {
		return fmt.Errorf("deleting %s: %w", uid, err)
	}
	return nil
}

func firstRealError(results []core.ItemResult) error {
	for _, r := range results {
		if r.NotFound {
			continue
		}
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (p *Processor) rename(job *model.SyncJob) error {
	nm, ok, err := p.store.GetNodeMapping(job.SyncRootID, job.OldLocalPath)
	if err != nil {
		return err
	}
	if !ok {
		return newClientStateError("no node mapping for rename source %s", job.OldLocalPath)
	}

	newName := filepath.Base(job.RemotePath)
	if err := withTimeout(jsonCallTimeout, func() error {
		return p.client.Relocate(nm.NodeUID, core.RelocateRequest{NewName: newName})
	}); err != nil {
		return fmt.Errorf("relocating %s: %w", job.OldLocalPath, err)
	}

	return p.store.CompleteRename(job.ID, job.SyncRootID, job.OldLocalPath, job.LocalPath, "", nm.IsDirectory)
}

func (p *Processor) move(job *model.SyncJob) error {
	nm, ok, err := p.store.GetNodeMapping(job.SyncRootID, job.OldLocalPath)
	if err != nil {
		return err
	}
	if !ok {
		return newClientStateError("no node mapping for move source %s", job.OldLocalPath)
	}

	newParentUID, err := p.ensureAncestors(job.RemotePath)
	if err != nil {
		return err
	}
	newName := filepath.Base(job.RemotePath)

	if err := withTimeout(jsonCallTimeout, func() error {
		return p.client.Relocate(nm.NodeUID, core.RelocateRequest{NewParentUID: newParentUID, NewName: newName})
	}); err != nil {
		return fmt.Errorf("relocating %s: %w", job.OldLocalPath, err)
	}

	return p.store.CompleteRename(job.ID, job.SyncRootID, job.OldLocalPath, job.LocalPath, newParentUID, nm.IsDirectory)
}

func (p *Processor) deleteAndCreate(job *model.SyncJob) error {
	oldPath := job.OldLocalPath
	if oldPath == "" {
		oldPath = job.LocalPath
	}

	if nm, ok, err := p.store.GetNodeMapping(job.SyncRootID, oldPath); err != nil {
		return err
	} else if ok {
		if err := p.trashAndDelete(nm.NodeUID); err != nil {
			return err
		}
	}

	parentUID, err := p.ensureAncestors(job.RemotePath)
	if err != nil {
		return err
	}
	name := filepath.Base(job.RemotePath)

	info, statErr := os.Stat(job.LocalPath)
	if statErr != nil {
		return fmt.Errorf("stat %s before recreate: %w", job.LocalPath, statErr)
	}

	var nodeUID string
	if job.IsDirectory {
		nodeUID, err = withTimeoutT(jsonCallTimeout, func() (string, error) {
			return p.client.CreateFolder(parentUID, name, info.ModTime().UnixMilli())
		})
	} else {
		meta := core.UploadMeta{ModTime: info.ModTime().UnixMilli(), Size: info.Size()}
		nodeUID, err = withTimeoutT(binaryCallTimeout, func() (string, error) {
			f, openErr := os.Open(job.LocalPath)
			if openErr != nil {
				return "", openErr
			}
			defer f.Close()
			return p.client.UploadFile(parentUID, name, meta, f)
		})
	}
	if err != nil {
		return fmt.Errorf("recreating %s: %w", job.LocalPath, err)
	}

	nm := &model.NodeMapping{SyncRootID: job.SyncRootID, LocalPath: job.LocalPath, NodeUID: nodeUID, ParentNodeUID: parentUID, IsDirectory: job.IsDirectory}
	var fh *model.FileHash
	if !job.IsDirectory {
		fh = &model.FileHash{SyncRootID: job.SyncRootID, LocalPath: job.LocalPath, ContentHash: job.ContentHash}
	}
	st, err := fileStateFor(job.SyncRootID, job.LocalPath, job.IsDirectory)
	if err != nil {
		return err
	}

	clearOld := ""
	if oldPath != job.LocalPath {
		clearOld = oldPath
	}
	return p.store.CompleteDeleteAndCreate(job.ID, job.SyncRootID, clearOld, nm, fh, st)
}

func fileStateFor(syncRootID, localPath string, isDirectory bool) (*model.FileState, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s for file state: %w", localPath, err)
	}
	return &model.FileState{
		SyncRootID:  syncRootID,
		LocalPath:   localPath,
		ChangeToken: core.FileChange{ModTimeMs: info.ModTime().UnixMilli(), Size: info.Size()}.ChangeToken(),
		IsDirectory: isDirectory,
	}, nil
}

// withTimeout enforces spec.md §4.5's per-call network budgets against a
// Client interface that is itself synchronous and context-unaware: fn runs
// in a goroutine and the call is treated as TRANSIENT_NETWORK if it hasn't
// returned within d. Because Client has no cancellation hook, a stuck fn
// leaks its goroutine until it eventually returns; both bundled backends
// (MemoryClient, HTTPClient's stubs) return promptly, so this is not
// expected to trigger outside of a hung real network implementation.
func withTimeout(d time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return errTimeout
	}
}

func withTimeoutT[T any](d time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-time.After(d):
		var zero T
		return zero, errTimeout
	}
}

// boolFlag is a mutex-guarded bool for the pause/resume flag, matching the
// running-flag idiom internal/watcher's LiveWatcher already uses.
type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (f *boolFlag) set(v bool) {
	f.mu.Lock()
	f.v = v
	f.mu.Unlock()
}

func (f *boolFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}
