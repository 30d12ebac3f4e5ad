// Package model defines the data shapes persisted by the State Store and
// passed between the Watcher, Classifier, Queue and Processor.
package model

import "time"

// EventType identifies the kind of change a SyncJob represents.
type EventType string

const (
	EventCreate          EventType = "CREATE"
	EventUpdate          EventType = "UPDATE"
	EventDelete          EventType = "DELETE"
	EventRename          EventType = "RENAME"
	EventMove            EventType = "MOVE"
	EventDeleteAndCreate EventType = "DELETE_AND_CREATE"
)

// JobState is the lifecycle state of a SyncJob row.
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobSynced     JobState = "SYNCED"
	JobBlocked    JobState = "BLOCKED"
)

// ErrorClass partitions processor failures for the retry/backoff policy.
type ErrorClass string

const (
	ErrTransientNetwork ErrorClass = "TRANSIENT_NETWORK"
	ErrRateLimited      ErrorClass = "RATE_LIMITED"
	ErrReuploadNeeded   ErrorClass = "REUPLOAD_NEEDED"
	ErrClientState      ErrorClass = "CLIENT_STATE"
	ErrPermanent        ErrorClass = "PERMANENT"
)

// FileState records the last-observed (mtime_ms, size) token for a path.
// Present iff the Watcher has previously observed the path.
type FileState struct {
	SyncRootID  string
	LocalPath   string
	ChangeToken string
	IsDirectory bool
}

// FileHash maps a path to the SHA-1 hex digest of its bytes at last
// successful upload (or rename-by-hash match).
type FileHash struct {
	SyncRootID  string
	LocalPath   string
	ContentHash string
}

// NodeMapping maps a local path to the remote object that represents it.
// Present iff the DriveClient has confirmed the remote object exists.
// NodeUID is opaque and stable across relocates.
type NodeMapping struct {
	SyncRootID    string
	LocalPath     string
	NodeUID       string
	ParentNodeUID string
	IsDirectory   bool
}

// SyncJob is a durable row in the job queue representing one intended
// remote operation on one path.
type SyncJob struct {
	ID            int64
	SyncRootID    string
	EventType     EventType
	LocalPath     string
	RemotePath    string
	OldLocalPath  string
	OldRemotePath string
	ContentHash   string
	IsDirectory   bool
	State         JobState
	NRetries      int
	RetryAt       time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReadyAt reports whether the job is eligible to be claimed at t.
func (j *SyncJob) ReadyAt(t time.Time) bool {
	return j.State == JobPending && !j.RetryAt.After(t)
}

// SignalTag identifies a control-loop signal consumed at-most-once per tag.
type SignalTag string

const (
	SignalStop   SignalTag = "stop"
	SignalPause  SignalTag = "pause"
	SignalResume SignalTag = "resume"
	SignalReload SignalTag = "reload"
)

// Signal is one row in the FIFO signal queue.
type Signal struct {
	ID      int64
	Tag     SignalTag
	Created time.Time
}
