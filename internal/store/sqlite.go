// Package store implements the State Store (C1) on top of SQLite: the
// single local embedded transactional store for file state, content
// hashes, remote node mappings, the job queue and the signal queue.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pdsync/internal/core"
	"pdsync/internal/model"
	"pdsync/internal/store/migrations"
)

// SQLiteStore implements core.Store on top of database/sql + go-sqlite3.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (and, if needed, migrates) the state store database at path.
// path may be a file path or ":memory:".
func Open(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state store: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the state store relies on: foreign keys (defensive, though this schema
// uses none), and a busy timeout so concurrent claim/complete/fail
// transactions from the Processor's worker pool queue instead of erroring.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BackupTo creates a complete copy of the database at destPath using
// VACUUM INTO; used by internal/statebackup.
func (s *SQLiteStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up state store: %w", err)
	}
	return nil
}

var _ core.Store = (*SQLiteStore)(nil)

// --- FileState -------------------------------------------------------

func (s *SQLiteStore) GetFileState(syncRootID, localPath string) (*model.FileState, bool, error) {
	row := s.db.QueryRow(`SELECT change_token, is_directory FROM file_state WHERE sync_root_id = ? AND local_path = ?`,
		syncRootID, localPath)

	fs := &model.FileState{SyncRootID: syncRootID, LocalPath: localPath}
	var isDir int
	if err := row.Scan(&fs.ChangeToken, &isDir); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting file state: %w", err)
	}
	fs.IsDirectory = isDir != 0
	return fs, true, nil
}

func (s *SQLiteStore) PutFileState(fs *model.FileState) error {
	_, err := s.db.Exec(`
		INSERT INTO file_state (sync_root_id, local_path, change_token, is_directory)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sync_root_id, local_path) DO UPDATE SET
			change_token = excluded.change_token,
			is_directory = excluded.is_directory`,
		fs.SyncRootID, fs.LocalPath, fs.ChangeToken, boolToInt(fs.IsDirectory))
	if err != nil {
		return fmt.Errorf("putting file state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFileState(syncRootID, localPath string) error {
	_, err := s.db.Exec(`DELETE FROM file_state WHERE sync_root_id = ? AND local_path = ?`, syncRootID, localPath)
	if err != nil {
		return fmt.Errorf("deleting file state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFileStates(syncRootID string) ([]*model.FileState, error) {
	rows, err := s.db.Query(`SELECT local_path, change_token, is_directory FROM file_state WHERE sync_root_id = ?`, syncRootID)
	if err != nil {
		return nil, fmt.Errorf("listing file states: %w", err)
	}
	defer rows.Close()

	var out []*model.FileState
	for rows.Next() {
		fs := &model.FileState{SyncRootID: syncRootID}
		var isDir int
		if err := rows.Scan(&fs.LocalPath, &fs.ChangeToken, &isDir); err != nil {
			return nil, fmt.Errorf("scanning file state: %w", err)
		}
		fs.IsDirectory = isDir != 0
		out = append(out, fs)
	}
	return out, rows.Err()
}

// --- FileHash ----------------------------------------------------------

func (s *SQLiteStore) GetFileHash(syncRootID, localPath string) (*model.FileHash, bool, error) {
	row := s.db.QueryRow(`SELECT content_hash FROM file_hashes WHERE sync_root_id = ? AND local_path = ?`,
		syncRootID, localPath)

	fh := &model.FileHash{SyncRootID: syncRootID, LocalPath: localPath}
	if err := row.Scan(&fh.ContentHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting file hash: %w", err)
	}
	return fh, true, nil
}

func (s *SQLiteStore) FindPathsByHash(syncRootID, contentHash string) ([]string, error) {
	rows, err := s.db.Query(`SELECT local_path FROM file_hashes WHERE sync_root_id = ? AND content_hash = ?`,
		syncRootID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("finding paths by hash: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func putFileHashTx(tx *sql.Tx, fh *model.FileHash) error {
	_, err := tx.Exec(`
		INSERT INTO file_hashes (sync_root_id, local_path, content_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (sync_root_id, local_path) DO UPDATE SET content_hash = excluded.content_hash`,
		fh.SyncRootID, fh.LocalPath, fh.ContentHash)
	return err
}

// --- NodeMapping ---------------------------------------------------------

func (s *SQLiteStore) GetNodeMapping(syncRootID, localPath string) (*model.NodeMapping, bool, error) {
	row := s.db.QueryRow(`
		SELECT node_uid, parent_node_uid, is_directory FROM node_mapping
		WHERE sync_root_id = ? AND local_path = ?`, syncRootID, localPath)

	nm := &model.NodeMapping{SyncRootID: syncRootID, LocalPath: localPath}
	var isDir int
	if err := row.Scan(&nm.NodeUID, &nm.ParentNodeUID, &isDir); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting node mapping: %w", err)
	}
	nm.IsDirectory = isDir != 0
	return nm, true, nil
}

func putNodeMappingTx(tx *sql.Tx, nm *model.NodeMapping) error {
	_, err := tx.Exec(`
		INSERT INTO node_mapping (sync_root_id, local_path, node_uid, parent_node_uid, is_directory)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sync_root_id, local_path) DO UPDATE SET
			node_uid = excluded.node_uid,
			parent_node_uid = excluded.parent_node_uid,
			is_directory = excluded.is_directory`,
		nm.SyncRootID, nm.LocalPath, nm.NodeUID, nm.ParentNodeUID, boolToInt(nm.IsDirectory))
	return err
}

// --- Job queue -----------------------------------------------------------

func (s *SQLiteStore) Enqueue(job *model.SyncJob, replacingID int64) (int64, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if replacingID != 0 {
		if _, err := tx.Exec(`DELETE FROM sync_jobs WHERE id = ?`, replacingID); err != nil {
			return 0, fmt.Errorf("replacing prior job: %w", err)
		}
	}

	now := job.CreatedAt
	res, err := tx.Exec(`
		INSERT INTO sync_jobs (
			sync_root_id, event_type, local_path, remote_path, old_local_path,
			old_remote_path, content_hash, is_directory, state, n_retries,
			retry_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.SyncRootID, string(job.EventType), job.LocalPath, job.RemotePath, job.OldLocalPath,
		job.OldRemotePath, job.ContentHash, boolToInt(job.IsDirectory), string(model.JobPending), 0,
		0, "", now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("enqueuing job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new job id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing enqueue: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FindActiveJob(syncRootID, localPath string) (*model.SyncJob, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, event_type, local_path, remote_path, old_local_path, old_remote_path,
		       content_hash, is_directory, state, n_retries, retry_at, last_error,
		       created_at, updated_at
		FROM sync_jobs
		WHERE sync_root_id = ? AND local_path = ? AND state != ?
		ORDER BY id DESC LIMIT 1`, syncRootID, localPath, string(model.JobSynced))

	job, err := scanJob(row, syncRootID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finding active job: %w", err)
	}
	return job, true, nil
}

// ClaimNext atomically selects the oldest ready PENDING job and marks it
// PROCESSING. SQLite serializes writers, so the UPDATE...WHERE state=PENDING
// guard is sufficient to make this safe under concurrent callers.
func (s *SQLiteStore) ClaimNext(now time.Time) (*model.SyncJob, bool, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`
		SELECT id FROM sync_jobs
		WHERE state = ? AND retry_at <= ?
		ORDER BY id ASC LIMIT 1`, string(model.JobPending), now.UnixMilli()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting claimable job: %w", err)
	}

	res, err := tx.Exec(`UPDATE sync_jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(model.JobProcessing), now.UnixMilli(), id, string(model.JobPending))
	if err != nil {
		return nil, false, fmt.Errorf("claiming job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking claim result: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	row := tx.QueryRow(`
		SELECT id, sync_root_id, event_type, local_path, remote_path, old_local_path, old_remote_path,
		       content_hash, is_directory, state, n_retries, retry_at, last_error,
		       created_at, updated_at
		FROM sync_jobs WHERE id = ?`, id)

	job, err := scanJobWithRoot(row)
	if err != nil {
		return nil, false, fmt.Errorf("reading claimed job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing claim: %w", err)
	}
	return job, true, nil
}

func (s *SQLiteStore) CompleteJob(jobID int64, nm *model.NodeMapping, fh *model.FileHash, st *model.FileState) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := markSyncedTx(tx, jobID); err != nil {
		return err
	}
	if nm != nil {
		if err := putNodeMappingTx(tx, nm); err != nil {
			return fmt.Errorf("upserting node mapping: %w", err)
		}
	}
	if fh != nil {
		if err := putFileHashTx(tx, fh); err != nil {
			return fmt.Errorf("upserting file hash: %w", err)
		}
	}
	if st != nil {
		if _, err := tx.Exec(`
			INSERT INTO file_state (sync_root_id, local_path, change_token, is_directory)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (sync_root_id, local_path) DO UPDATE SET
				change_token = excluded.change_token,
				is_directory = excluded.is_directory`,
			st.SyncRootID, st.LocalPath, st.ChangeToken, boolToInt(st.IsDirectory)); err != nil {
			return fmt.Errorf("upserting file state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing job completion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteDelete(jobID int64, syncRootID, localPath string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := markSyncedTx(tx, jobID); err != nil {
		return err
	}

	prefix := localPath + "/"
	for _, stmt := range []string{
		`DELETE FROM node_mapping WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
		`DELETE FROM file_hashes WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
		`DELETE FROM file_state WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
	} {
		if _, err := tx.Exec(stmt, syncRootID, localPath, likePrefix(prefix)); err != nil {
			return fmt.Errorf("removing deleted subtree: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete completion: %w", err)
	}
	return nil
}

// CompleteDeleteAndCreate removes oldLocalPath's (and its subtree's)
// NodeMapping/FileHash/FileState rows, upserts the new ones, and marks the
// job SYNCED, all in one transaction. See the doc comment on
// core.Store.CompleteDeleteAndCreate for why this is one transaction
// rather than two.
func (s *SQLiteStore) CompleteDeleteAndCreate(jobID int64, syncRootID, oldLocalPath string, nm *model.NodeMapping, fh *model.FileHash, st *model.FileState) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := markSyncedTx(tx, jobID); err != nil {
		return err
	}

	if oldLocalPath != "" {
		prefix := oldLocalPath + "/"
		for _, stmt := range []string{
			`DELETE FROM node_mapping WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
			`DELETE FROM file_hashes WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
			`DELETE FROM file_state WHERE sync_root_id = ? AND (local_path = ? OR local_path LIKE ? ESCAPE '\')`,
		} {
			if _, err := tx.Exec(stmt, syncRootID, oldLocalPath, likePrefix(prefix)); err != nil {
				return fmt.Errorf("removing prior path before recreate: %w", err)
			}
		}
	}

	if nm != nil {
		if err := putNodeMappingTx(tx, nm); err != nil {
			return fmt.Errorf("upserting node mapping: %w", err)
		}
	}
	if fh != nil {
		if err := putFileHashTx(tx, fh); err != nil {
			return fmt.Errorf("upserting file hash: %w", err)
		}
	}
	if st != nil {
		if _, err := tx.Exec(`
			INSERT INTO file_state (sync_root_id, local_path, change_token, is_directory)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (sync_root_id, local_path) DO UPDATE SET
				change_token = excluded.change_token,
				is_directory = excluded.is_directory`,
			st.SyncRootID, st.LocalPath, st.ChangeToken, boolToInt(st.IsDirectory)); err != nil {
			return fmt.Errorf("upserting file state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete-and-create completion: %w", err)
	}
	return nil
}

// CompleteRename rewrites localPath -> newLocalPath for NodeMapping,
// FileHash and FileState, including every row whose path begins with
// localPath+"/" (the directory-prefix rewrite), and marks the job SYNCED.
func (s *SQLiteStore) CompleteRename(jobID int64, syncRootID, oldPath, newPath string, newParentUID string, isDirectory bool) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := markSyncedTx(tx, jobID); err != nil {
		return err
	}

	if err := renamePathRowsTx(tx, "node_mapping", syncRootID, oldPath, newPath); err != nil {
		return err
	}
	if err := renamePathRowsTx(tx, "file_hashes", syncRootID, oldPath, newPath); err != nil {
		return err
	}
	if err := renamePathRowsTx(tx, "file_state", syncRootID, oldPath, newPath); err != nil {
		return err
	}

	if newParentUID != "" {
		if _, err := tx.Exec(`UPDATE node_mapping SET parent_node_uid = ? WHERE sync_root_id = ? AND local_path = ?`,
			newParentUID, syncRootID, newPath); err != nil {
			return fmt.Errorf("updating parent node uid: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rename completion: %w", err)
	}
	return nil
}

// renamePathRowsTx rewrites the exact-match row and every row nested under
// oldPath (oldPath+"/...") in table to start with newPath instead.
func renamePathRowsTx(tx *sql.Tx, table, syncRootID, oldPath, newPath string) error {
	if _, err := tx.Exec(fmt.Sprintf(`UPDATE %s SET local_path = ? WHERE sync_root_id = ? AND local_path = ?`, table),
		newPath, syncRootID, oldPath); err != nil {
		return fmt.Errorf("renaming %s row: %w", table, err)
	}

	prefix := oldPath + "/"
	rows, err := tx.Query(fmt.Sprintf(`SELECT local_path FROM %s WHERE sync_root_id = ? AND local_path LIKE ? ESCAPE '\'`, table),
		syncRootID, likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("finding %s subtree rows: %w", table, err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("scanning %s subtree row: %w", table, err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range paths {
		rewritten := newPath + "/" + strings.TrimPrefix(p, prefix)
		if _, err := tx.Exec(fmt.Sprintf(`UPDATE %s SET local_path = ? WHERE sync_root_id = ? AND local_path = ?`, table),
			rewritten, syncRootID, p); err != nil {
			return fmt.Errorf("rewriting %s subtree row: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStore) FailJob(jobID int64, lastError string, retryAt *time.Time, blocked bool) error {
	state := string(model.JobPending)
	var retryAtMs int64
	if retryAt != nil {
		retryAtMs = retryAt.UnixMilli()
	}
	if blocked {
		state = string(model.JobBlocked)
	}

	_, err := s.db.Exec(`
		UPDATE sync_jobs
		SET state = ?, last_error = ?, retry_at = ?, n_retries = n_retries + 1, updated_at = ?
		WHERE id = ?`,
		state, lastError, retryAtMs, time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ConvertToDeleteAndCreate(jobID int64, retryAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sync_jobs
		SET event_type = ?, state = ?, n_retries = 0, retry_at = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		string(model.EventDeleteAndCreate), string(model.JobPending), retryAt.UnixMilli(), time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("converting job to delete-and-create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StartupRecovery(now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE sync_jobs SET state = ?, retry_at = ?, updated_at = ?
		WHERE state = ?`,
		string(model.JobPending), now.UnixMilli(), now.UnixMilli(), string(model.JobProcessing))
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting recovered jobs: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) ListBlocked(limit int) ([]*model.SyncJob, error) {
	return s.listByState(string(model.JobBlocked), "id DESC", limit)
}

func (s *SQLiteStore) ListRecent(limit int) ([]*model.SyncJob, error) {
	return s.listByState(string(model.JobSynced), "updated_at DESC", limit)
}

func (s *SQLiteStore) listByState(state, order string, limit int) ([]*model.SyncJob, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, sync_root_id, event_type, local_path, remote_path, old_local_path, old_remote_path,
		       content_hash, is_directory, state, n_retries, retry_at, last_error,
		       created_at, updated_at
		FROM sync_jobs WHERE state = ? ORDER BY %s LIMIT ?`, order), state, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by state: %w", err)
	}
	defer rows.Close()

	var out []*model.SyncJob
	for rows.Next() {
		job, err := scanJobWithRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneSynced(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sync_jobs WHERE state = ? AND updated_at < ?`,
		string(model.JobSynced), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning synced jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned jobs: %w", err)
	}
	return int(n), nil
}

// ResetAll truncates file_state, file_hashes, node_mapping, sync_jobs and
// signals in one transaction, returning the store to a freshly-migrated
// empty state.
func (s *SQLiteStore) ResetAll() error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"file_state", "file_hashes", "node_mapping", "sync_jobs", "signals"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	return nil
}

func markSyncedTx(tx *sql.Tx, jobID int64) error {
	_, err := tx.Exec(`UPDATE sync_jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(model.JobSynced), time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("marking job synced: %w", err)
	}
	return nil
}

// --- Signal queue ----------------------------------------------------

func (s *SQLiteStore) PushSignal(tag model.SignalTag) error {
	_, err := s.db.Exec(`INSERT INTO signals (tag, created_at) VALUES (?, ?)`, string(tag), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("pushing signal: %w", err)
	}
	return nil
}

// PopSignal removes and returns the oldest queued signal, if any.
func (s *SQLiteStore) PopSignal() (model.SignalTag, bool, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var tag string
	err = tx.QueryRow(`SELECT id, tag FROM signals ORDER BY id ASC LIMIT 1`).Scan(&id, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading next signal: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM signals WHERE id = ?`, id); err != nil {
		return "", false, fmt.Errorf("removing signal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing signal pop: %w", err)
	}
	return model.SignalTag(tag), true, nil
}

// --- scanning helpers --------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner, syncRootID string) (*model.SyncJob, error) {
	job := &model.SyncJob{SyncRootID: syncRootID}
	var eventType, state string
	var isDir int
	var retryAtMs, createdMs, updatedMs int64
	if err := r.Scan(&job.ID, &eventType, &job.LocalPath, &job.RemotePath, &job.OldLocalPath, &job.OldRemotePath,
		&job.ContentHash, &isDir, &state, &job.NRetries, &retryAtMs, &job.LastError, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	job.EventType = model.EventType(eventType)
	job.State = model.JobState(state)
	job.IsDirectory = isDir != 0
	job.RetryAt = time.UnixMilli(retryAtMs)
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	return job, nil
}

// scanJobWithRoot scans a row that also carries sync_root_id as its 2nd column.
func scanJobWithRoot(r rowScanner) (*model.SyncJob, error) {
	job := &model.SyncJob{}
	var eventType, state string
	var isDir int
	var retryAtMs, createdMs, updatedMs int64
	if err := r.Scan(&job.ID, &job.SyncRootID, &eventType, &job.LocalPath, &job.RemotePath, &job.OldLocalPath, &job.OldRemotePath,
		&job.ContentHash, &isDir, &state, &job.NRetries, &retryAtMs, &job.LastError, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	job.EventType = model.EventType(eventType)
	job.State = model.JobState(state)
	job.IsDirectory = isDir != 0
	job.RetryAt = time.UnixMilli(retryAtMs)
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	return job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePrefix escapes SQLite LIKE metacharacters in a literal path prefix.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
