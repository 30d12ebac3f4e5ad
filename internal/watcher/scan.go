package watcher

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"pdsync/internal/core"
)

// Scanner performs the scan-diff pass (spec.md §4.2): on startup or on
// demand, it walks a sync root and compares the on-disk state against the
// last-recorded FileState to produce a batch of FileChange records.
type Scanner struct {
	store core.Store
	clock core.Clock
}

// NewScanner constructs a Scanner backed by store, using clock for
// ObservedAt timestamps.
func NewScanner(store core.Store, clock core.Clock) *Scanner {
	return &Scanner{store: store, clock: clock}
}

// Scan walks rootPath (the local directory for syncRootID), skipping paths
// matched by ignore, and returns every FileChange implied by the diff
// against the store's FileState rows for this sync root.
func (s *Scanner) Scan(syncRootID, rootPath string, ignore *IgnoreMatcher) ([]core.FileChange, error) {
	now := s.clock.Now()
	seen := make(map[string]bool)
	var changes []core.FileChange

	err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == rootPath {
			return nil
		}

		rel, relErr := filepath.Rel(rootPath, p)
		if relErr != nil {
			return fmt.Errorf("resolving relative path for %s: %w", p, relErr)
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return fmt.Errorf("stat %s: %w", p, infoErr)
		}

		seen[p] = true
		isDir := d.IsDir()
		token := fmt.Sprintf("%d:%d", info.ModTime().UnixMilli(), info.Size())

		prior, ok, getErr := s.store.GetFileState(syncRootID, p)
		if getErr != nil {
			return fmt.Errorf("loading file state for %s: %w", p, getErr)
		}

		if !ok {
			changes = append(changes, core.FileChange{
				SyncRootID: syncRootID, LocalPath: p, Exists: true, New: true,
				IsDirectory: isDir, ModTimeMs: info.ModTime().UnixMilli(), Size: info.Size(), ObservedAt: now,
			})
			return nil
		}

		if isDir {
			// Directories only generate events on creation/deletion.
			return nil
		}

		if prior.ChangeToken != token {
			changes = append(changes, core.FileChange{
				SyncRootID: syncRootID, LocalPath: p, Exists: true, New: false,
				IsDirectory: false, ModTimeMs: info.ModTime().UnixMilli(), Size: info.Size(), ObservedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", rootPath, err)
	}

	known, err := s.store.ListFileStates(syncRootID)
	if err != nil {
		return nil, fmt.Errorf("listing known file states: %w", err)
	}
	for _, fs := range known {
		if seen[fs.LocalPath] {
			continue
		}
		changes = append(changes, core.FileChange{
			SyncRootID: syncRootID, LocalPath: fs.LocalPath, Exists: false,
			IsDirectory: fs.IsDirectory, ObservedAt: now,
		})
	}

	return changes, nil
}
