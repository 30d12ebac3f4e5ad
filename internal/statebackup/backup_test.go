package statebackup

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestObjectKey_IncludesPrefixAndTimestamp(t *testing.T) {
	key := objectKey("snapshots", 1_700_000_000_000_000_000)
	if !strings.HasPrefix(key, "snapshots/") || !strings.HasSuffix(key, ".sqlite") {
		t.Errorf("objectKey() = %q, want snapshots/<ts>.sqlite", key)
	}
}

func TestObjectKey_NoPrefix(t *testing.T) {
	key := objectKey("", 1_700_000_000_000_000_000)
	if strings.Contains(key, "/") {
		t.Errorf("objectKey() = %q, want no path separator without a prefix", key)
	}
}

type failingBacker struct{ err error }

func (b failingBacker) BackupTo(string) error { return b.err }

func TestSnapshot_PropagatesBackupError(t *testing.T) {
	u := &Uploader{store: failingBacker{err: errors.New("disk full")}, cfg: Config{Bucket: "b"}}
	if _, err := u.Snapshot(context.Background(), 1); err == nil {
		t.Fatal("Snapshot() expected error when BackupTo fails")
	}
}
