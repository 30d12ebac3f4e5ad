package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdsync/internal/core"
	"pdsync/internal/model"
	"pdsync/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path string, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes(%s) error = %v", path, err)
	}
}

func TestScanner_FirstRunEmitsNewForEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello", time.Unix(1000, 0))
	writeFile(t, filepath.Join(dir, "b.txt"), "world", time.Unix(1000, 0))

	s := newTestStore(t)
	scanner := NewScanner(s, fixedClock{time.Unix(2000, 0)})

	changes, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("Scan() returned %d changes, want 2: %+v", len(changes), changes)
	}
	for _, c := range changes {
		if !c.New || !c.Exists {
			t.Errorf("expected New+Exists change, got %+v", c)
		}
	}
}

func TestScanner_DetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello", time.Unix(1000, 0))

	s := newTestStore(t)
	scanner := NewScanner(s, fixedClock{time.Unix(2000, 0)})

	first, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	for _, c := range first {
		if err := s.PutFileState(&model.FileState{
			SyncRootID: "root1", LocalPath: c.LocalPath, ChangeToken: c.ChangeToken(), IsDirectory: c.IsDirectory,
		}); err != nil {
			t.Fatalf("PutFileState() error = %v", err)
		}
	}

	second, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second Scan() with no changes returned %+v, want none", second)
	}

	writeFile(t, path, "hello!!", time.Unix(5000, 0))

	third, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("third Scan() error = %v", err)
	}
	if len(third) != 1 || third[0].New || !third[0].Exists {
		t.Fatalf("third Scan() = %+v, want one non-new existing change", third)
	}
}

func TestScanner_DetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello", time.Unix(1000, 0))

	s := newTestStore(t)
	if err := s.PutFileState(&model.FileState{SyncRootID: "root1", LocalPath: path, ChangeToken: "1000000:5"}); err != nil {
		t.Fatalf("PutFileState() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	scanner := NewScanner(s, fixedClock{time.Unix(2000, 0)})
	changes, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Exists {
		t.Fatalf("Scan() = %+v, want one exists:false change", changes)
	}
}

func TestScanner_HonorsIgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello", time.Unix(1000, 0))
	writeFile(t, filepath.Join(dir, "a.tmp"), "scratch", time.Unix(1000, 0))

	s := newTestStore(t)
	scanner := NewScanner(s, fixedClock{time.Unix(2000, 0)})

	changes, err := scanner.Scan("root1", dir, NewIgnoreMatcher([]string{"*.tmp"}))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(changes) != 1 || filepath.Base(changes[0].LocalPath) != "a.txt" {
		t.Fatalf("Scan() = %+v, want only a.txt", changes)
	}
}

func TestScanner_DirectoryOnlyEmitsOnCreateOrDelete(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	s := newTestStore(t)
	scanner := NewScanner(s, fixedClock{time.Unix(2000, 0)})

	first, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(first) != 1 || !first[0].IsDirectory || !first[0].New {
		t.Fatalf("first Scan() = %+v, want one new directory", first)
	}
	for _, c := range first {
		s.PutFileState(&model.FileState{SyncRootID: "root1", LocalPath: c.LocalPath, IsDirectory: true, ChangeToken: c.ChangeToken()})
	}

	// Touching the directory's mtime alone must not be reported.
	if err := os.Chtimes(sub, time.Unix(9000, 0), time.Unix(9000, 0)); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	second, err := scanner.Scan("root1", dir, NewIgnoreMatcher(nil))
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second Scan() = %+v, want no events for directory mtime change", second)
	}
}

var _ core.Clock = fixedClock{}
