package main

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// PathRecord is one journal row (spec §3).
type PathRecord struct {
	Filepath      string `json:"filepath"`
	Checksum      string `json:"checksum"`
	Size          int64  `json:"size"`
	Version       int64  `json:"version"`
	CreatedTime   int64  `json:"created_time"`
	ModifiedTime  int64  `json:"modified_time"`
	NodeID        string `json:"node_id"`
	OperationType string `json:"operation_type"`
	IsDeleted     bool   `json:"is_deleted"`
}

// SyncLogEntry is one append-only sync-log row (spec §3).
type SyncLogEntry struct {
	SyncID       string `json:"sync_id"`
	SourceNode   string `json:"source_node"`
	TargetNode   string `json:"target_node"`
	Filepath     string `json:"filepath"`
	Action       string `json:"action"`
	Timestamp    int64  `json:"timestamp"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// JournalStats is the §4.3 get_stats() shape.
type JournalStats struct {
	TotalFiles  int64 `json:"total_files"`
	TotalSize   int64 `json:"total_size"`
	RecentSyncs int64 `json:"recent_syncs"`
}

// CompareResult is the three disjoint sets compare_metadata returns.
type CompareResult struct {
	Missing []string `json:"missing"`
	Outdated []string `json:"outdated"`
	Newer    []string `json:"newer"`
}

// Journal is the durable per-path version+history store, backed by an
// embedded sqlite database. It is guarded by a single non-reentrant mutex;
// every exported method except Close acquires it once, and the *Locked
// helpers expect it already held, per the "no reentrant locking" design
// note.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens (creating if necessary) the sqlite database at dbPath
// and ensures its schema exists.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			filepath TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_time INTEGER NOT NULL,
			modified_time INTEGER NOT NULL,
			node_id TEXT NOT NULL DEFAULT '',
			operation_type TEXT NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_filepath ON files(filepath)`,
		`CREATE TABLE IF NOT EXISTS sync_log (
			sync_id TEXT PRIMARY KEY,
			source_node TEXT NOT NULL,
			target_node TEXT NOT NULL,
			filepath TEXT NOT NULL,
			action TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_timestamp ON sync_log(timestamp)`,
	}
	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return fmt.Errorf("journal: init schema: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// AddFile is add_file (spec §4.3): insert with version=1 on first sight,
// else increment version, update mutable fields, and clear the tombstone.
func (j *Journal) AddFile(filepath, checksum string, size int64, nodeID, operationType string) (PathRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.addFileLocked(filepath, checksum, size, nodeID, operationType)
}

func (j *Journal) addFileLocked(filepath, checksum string, size int64, nodeID, operationType string) (PathRecord, error) {
	now := time.Now().Unix()

	existing, err := j.getFileLockedIncludeDeleted(filepath)
	if err != nil {
		return PathRecord{}, err
	}

	if existing == nil {
		rec := PathRecord{
			Filepath:      filepath,
			Checksum:      checksum,
			Size:          size,
			Version:       1,
			CreatedTime:   now,
			ModifiedTime:  now,
			NodeID:        nodeID,
			OperationType: operationType,
			IsDeleted:     false,
		}
		_, err := j.db.Exec(
			`INSERT INTO files (filepath, checksum, size, version, created_time, modified_time, node_id, operation_type, is_deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
			 ON CONFLICT(filepath) DO UPDATE SET
				checksum=excluded.checksum,
				size=excluded.size,
				version=files.version+1,
				modified_time=excluded.modified_time,
				node_id=excluded.node_id,
				operation_type=excluded.operation_type,
				is_deleted=0`,
			rec.Filepath, rec.Checksum, rec.Size, rec.Version, rec.CreatedTime, rec.ModifiedTime, rec.NodeID, rec.OperationType,
		)
		if err != nil {
			return PathRecord{}, fmt.Errorf("journal: add_file insert: %w", err)
		}
		return rec, nil
	}

	newVersion := existing.Version + 1
	_, err = j.db.Exec(
		`UPDATE files SET checksum=?, size=?, version=?, modified_time=?, node_id=?, operation_type=?, is_deleted=0
		 WHERE filepath=?`,
		checksum, size, newVersion, now, nodeID, operationType, filepath,
	)
	if err != nil {
		return PathRecord{}, fmt.Errorf("journal: add_file update: %w", err)
	}
	existing.Checksum = checksum
	existing.Size = size
	existing.Version = newVersion
	existing.ModifiedTime = now
	existing.NodeID = nodeID
	existing.OperationType = operationType
	existing.IsDeleted = false
	return *existing, nil
}

// GetFile is get_file (spec §4.3): returns the live record, or nil if
// missing or tombstoned.
func (j *Journal) GetFile(filepath string) (*PathRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, err := j.getFileLockedIncludeDeleted(filepath)
	if err != nil || rec == nil || rec.IsDeleted {
		return nil, err
	}
	return rec, nil
}

func (j *Journal) getFileLockedIncludeDeleted(filepath string) (*PathRecord, error) {
	row := j.db.QueryRow(
		`SELECT filepath, checksum, size, version, created_time, modified_time, node_id, operation_type, is_deleted
		 FROM files WHERE filepath=?`, filepath)
	var rec PathRecord
	var deleted int
	err := row.Scan(&rec.Filepath, &rec.Checksum, &rec.Size, &rec.Version, &rec.CreatedTime, &rec.ModifiedTime, &rec.NodeID, &rec.OperationType, &deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get_file: %w", err)
	}
	rec.IsDeleted = deleted != 0
	return &rec, nil
}

// GetAllFiles is get_all_files (spec §4.3): all live records ordered by
// filepath.
func (j *Journal) GetAllFiles() ([]PathRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT filepath, checksum, size, version, created_time, modified_time, node_id, operation_type, is_deleted
		 FROM files WHERE is_deleted=0 ORDER BY filepath`)
	if err != nil {
		return nil, fmt.Errorf("journal: get_all_files: %w", err)
	}
	defer rows.Close()

	var out []PathRecord
	for rows.Next() {
		var rec PathRecord
		var deleted int
		if err := rows.Scan(&rec.Filepath, &rec.Checksum, &rec.Size, &rec.Version, &rec.CreatedTime, &rec.ModifiedTime, &rec.NodeID, &rec.OperationType, &deleted); err != nil {
			return nil, err
		}
		rec.IsDeleted = deleted != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteFile is delete_file (spec §4.3): tombstone, never remove the row.
func (j *Journal) DeleteFile(filepath, nodeID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().Unix()
	res, err := j.db.Exec(
		`UPDATE files SET is_deleted=1, modified_time=?, node_id=?, operation_type='delete' WHERE filepath=?`,
		now, nodeID, filepath,
	)
	if err != nil {
		return fmt.Errorf("journal: delete_file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// No prior record: insert a tombstone outright so deletes of
		// files registered only on-disk (e.g. via scan) still record.
		_, err := j.addFileLocked(filepath, "", 0, nodeID, "delete")
		if err != nil {
			return err
		}
		_, err = j.db.Exec(`UPDATE files SET is_deleted=1 WHERE filepath=?`, filepath)
		return err
	}
	return nil
}

// GetFileVersion is get_file_version (spec §4.3): 0 if missing/tombstoned.
func (j *Journal) GetFileVersion(filepath string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, err := j.getFileLockedIncludeDeleted(filepath)
	if err != nil {
		return 0, err
	}
	if rec == nil || rec.IsDeleted {
		return 0, nil
	}
	return rec.Version, nil
}

// CompareMetadata is compare_metadata (spec §4.3): version dominates
// modified_time; timestamps are only compared when versions tie (per the
// open-question decision recorded in SPEC_FULL.md/DESIGN.md).
func (j *Journal) CompareMetadata(remote []PathRecord) (CompareResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	local := make(map[string]PathRecord)
	rows, err := j.db.Query(
		`SELECT filepath, checksum, size, version, created_time, modified_time, node_id, operation_type, is_deleted
		 FROM files WHERE is_deleted=0`)
	if err != nil {
		return CompareResult{}, fmt.Errorf("journal: compare_metadata: %w", err)
	}
	for rows.Next() {
		var rec PathRecord
		var deleted int
		if err := rows.Scan(&rec.Filepath, &rec.Checksum, &rec.Size, &rec.Version, &rec.CreatedTime, &rec.ModifiedTime, &rec.NodeID, &rec.OperationType, &deleted); err != nil {
			rows.Close()
			return CompareResult{}, err
		}
		rec.IsDeleted = deleted != 0
		local[rec.Filepath] = rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CompareResult{}, err
	}

	seen := make(map[string]bool)
	var result CompareResult
	for _, r := range remote {
		seen[r.Filepath] = true
		l, ok := local[r.Filepath]
		if !ok {
			result.Missing = append(result.Missing, r.Filepath)
			continue
		}
		if l.Version != r.Version {
			if l.Version < r.Version {
				result.Outdated = append(result.Outdated, r.Filepath)
			} else {
				result.Newer = append(result.Newer, r.Filepath)
			}
			continue
		}
		if l.ModifiedTime < r.ModifiedTime {
			result.Outdated = append(result.Outdated, r.Filepath)
		} else if l.ModifiedTime > r.ModifiedTime {
			result.Newer = append(result.Newer, r.Filepath)
		}
	}
	for path := range local {
		if !seen[path] {
			result.Newer = append(result.Newer, path)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Outdated)
	sort.Strings(result.Newer)
	return result, nil
}

// LogSync is log_sync (spec §4.3): append one immutable row.
func (j *Journal) LogSync(sourceNode, targetNode, filepath, action, status, errMsg string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.NewString()
	_, err := j.db.Exec(
		`INSERT INTO sync_log (sync_id, source_node, target_node, filepath, action, timestamp, status, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sourceNode, targetNode, filepath, action, time.Now().Unix(), status, nullIfEmpty(errMsg),
	)
	if err != nil {
		return "", fmt.Errorf("journal: log_sync: %w", err)
	}
	return id, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetSyncHistory is get_sync_history (spec §4.3): most recent limit rows.
func (j *Journal) GetSyncHistory(limit int) ([]SyncLogEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT sync_id, source_node, target_node, filepath, action, timestamp, status, COALESCE(error_message, '')
		 FROM sync_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: get_sync_history: %w", err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.SyncID, &e.SourceNode, &e.TargetNode, &e.Filepath, &e.Action, &e.Timestamp, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOperationHistory is get_operation_history (spec §4.3): includes
// tombstoned rows for audit visibility (the intentional asymmetry with
// GetAllFiles, decided in SPEC_FULL.md).
func (j *Journal) GetOperationHistory(limit int, nodeFilter string) ([]PathRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT filepath, checksum, size, version, created_time, modified_time, node_id, operation_type, is_deleted FROM files`
	var args []any
	if nodeFilter != "" {
		query += ` WHERE node_id=?`
		args = append(args, nodeFilter)
	}
	query += ` ORDER BY modified_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: get_operation_history: %w", err)
	}
	defer rows.Close()

	var out []PathRecord
	for rows.Next() {
		var rec PathRecord
		var deleted int
		if err := rows.Scan(&rec.Filepath, &rec.Checksum, &rec.Size, &rec.Version, &rec.CreatedTime, &rec.ModifiedTime, &rec.NodeID, &rec.OperationType, &deleted); err != nil {
			return nil, err
		}
		rec.IsDeleted = deleted != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetStats is get_stats (spec §4.3).
func (j *Journal) GetStats() (JournalStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var st JournalStats
	row := j.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE is_deleted=0`)
	if err := row.Scan(&st.TotalFiles, &st.TotalSize); err != nil {
		return JournalStats{}, fmt.Errorf("journal: get_stats: %w", err)
	}

	since := time.Now().Add(-time.Hour).Unix()
	row = j.db.QueryRow(`SELECT COUNT(*) FROM sync_log WHERE timestamp >= ?`, since)
	if err := row.Scan(&st.RecentSyncs); err != nil {
		return JournalStats{}, fmt.Errorf("journal: get_stats recent_syncs: %w", err)
	}
	return st, nil
}
