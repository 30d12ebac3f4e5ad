package core

import (
	"strconv"
	"time"
)

// FileChange is one raw observation from the Watcher (C2), before the
// Classifier turns it into a typed SyncJob. Exists/New/IsDirectory mirror
// spec §4.2's scan-diff and live-mode event shapes.
type FileChange struct {
	SyncRootID  string
	LocalPath   string
	Exists      bool // false means the path was observed missing
	New         bool // true iff FileState had no prior row for this path
	IsDirectory bool
	ModTimeMs   int64
	Size        int64
	ObservedAt  time.Time
}

// ChangeToken is the cheap staleness token: "<mtime_ms>:<size>".
func (c FileChange) ChangeToken() string {
	return changeToken(c.ModTimeMs, c.Size)
}

func changeToken(mtimeMs, size int64) string {
	return strconv.FormatInt(mtimeMs, 10) + ":" + strconv.FormatInt(size, 10)
}
