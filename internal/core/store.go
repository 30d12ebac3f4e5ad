package core

import (
	"time"

	"pdsync/internal/model"
)

// Store is the State Store (C1): the single local embedded transactional
// store holding per-path change tokens, content hashes, remote-node
// mappings, the job queue, and the signal queue.
//
// The five groupings below must each execute as a single transaction; see
// spec §4.1. Implementations are expected to back this with an embedded
// relational database (sqlite) but the interface itself is storage-agnostic
// so the Processor/Classifier/Engine can be tested against a fake.
type Store interface {
	// FileState

	GetFileState(syncRootID, localPath string) (*model.FileState, bool, error)
	PutFileState(fs *model.FileState) error
	DeleteFileState(syncRootID, localPath string) error
	ListFileStates(syncRootID string) ([]*model.FileState, error)

	// FileHash

	GetFileHash(syncRootID, localPath string) (*model.FileHash, bool, error)
	FindPathsByHash(syncRootID, contentHash string) ([]string, error)

	// NodeMapping

	GetNodeMapping(syncRootID, localPath string) (*model.NodeMapping, bool, error)

	// SyncJob / Job Queue (C4)

	// Enqueue inserts or coalesces a job for localPath; see spec §4.3 step 4.
	// Coalescing is the Classifier's responsibility — Enqueue just persists
	// the already-resolved job, first deleting the prior row whose id is
	// replacingID when replacingID is non-zero.
	Enqueue(job *model.SyncJob, replacingID int64) (int64, error)

	// FindActiveJob returns the open (non-SYNCED) job for a path, if any.
	FindActiveJob(syncRootID, localPath string) (*model.SyncJob, bool, error)

	// ClaimNext atomically selects the oldest PENDING job with
	// retryAt <= now, marks it PROCESSING, and returns it. "Claim a job".
	ClaimNext(now time.Time) (*model.SyncJob, bool, error)

	// CompleteJob is the "complete a job" transaction: marks the job
	// SYNCED and upserts NodeMapping/FileHash/FileState atomically.
	// Any of the three pointers may be nil (e.g. a DELETE completion has
	// no hash/mapping/state to write — see CompleteDelete).
	CompleteJob(jobID int64, nm *model.NodeMapping, fh *model.FileHash, st *model.FileState) error

	// CompleteDelete is the "complete a job" transaction for DELETE: marks
	// the job SYNCED and removes NodeMapping/FileHash/FileState for path.
	CompleteDelete(jobID int64, syncRootID, localPath string) error

	// CompleteRename rewrites localPath -> newLocalPath for NodeMapping,
	// FileHash and FileState (and, for directories, every row whose path
	// begins with localPath+"/") and marks the job SYNCED, all in one
	// transaction. This is the "directory-prefix rename" transaction.
	CompleteRename(jobID int64, syncRootID, oldPath, newPath string, newParentUID string, isDirectory bool) error

	// FailJob is the "fail a job" transaction: records lastError and either
	// reschedules (state=PENDING, retryAt=next, nRetries++) or blocks the
	// job (state=BLOCKED) depending on what the caller computed.
	FailJob(jobID int64, lastError string, retryAt *time.Time, blocked bool) error

	// ConvertToDeleteAndCreate rewrites a REUPLOAD_NEEDED job (at
	// nRetries>=2) into a DELETE_AND_CREATE job, resetting retry state.
	ConvertToDeleteAndCreate(jobID int64, retryAt time.Time) error

	// CompleteDeleteAndCreate is the "complete a job" transaction for
	// DELETE_AND_CREATE: removes NodeMapping/FileHash/FileState for
	// oldLocalPath (and its subtree), upserts them for the new mapping/
	// hash/state, and marks the job SYNCED, all atomically. Implemented as
	// a single transaction rather than the two the name suggests, so a
	// crash between the delete and create halves can never leave the job
	// PROCESSING with only one side applied.
	CompleteDeleteAndCreate(jobID int64, syncRootID, oldLocalPath string, nm *model.NodeMapping, fh *model.FileHash, st *model.FileState) error

	// StartupRecovery resets every PROCESSING row to PENDING with
	// retryAt=now. Must run once before the Processor starts claiming.
	StartupRecovery(now time.Time) (int, error)

	// ListBlocked returns BLOCKED jobs for the status surface.
	ListBlocked(limit int) ([]*model.SyncJob, error)

	// ListRecent returns the most recently synced jobs for the dashboard.
	ListRecent(limit int) ([]*model.SyncJob, error)

	// PruneSynced deletes SYNCED rows older than before.
	PruneSynced(before time.Time) (int, error)

	// ResetAll truncates file_state, file_hashes, node_mapping, sync_jobs
	// and signals, returning the store to a freshly-migrated empty state.
	// Used by `pdsync reset` with no flags.
	ResetAll() error

	// Signal queue

	PushSignal(tag model.SignalTag) error
	PopSignal() (model.SignalTag, bool, error)

	Close() error
}
