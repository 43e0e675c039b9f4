package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"activityd/pkg/logger"
	"activityd/pkg/models"
)

// schemaVersion is bumped on incompatible schema changes. A database
// written by a different version refuses to open.
const schemaVersion = 1

var (
	db      *sql.DB
	dbPath  string
	writeMu sync.Mutex
)

// Open opens (or creates) the SQLite database at the given path and
// keeps a global handle for simple usage in this package. WAL mode with
// NORMAL sync matches the deployment on a mounted volume; _txlock
// immediate makes write transactions take the write lock up front.
func Open(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &InitError{Reason: "db directory unwritable", Err: err}
		}
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	d, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return &InitError{Reason: "open failed", Err: err}
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return &InitError{Reason: "db path unusable", Err: err}
	}
	db = d
	dbPath = path
	logger.Info("sqlite_opened", "path", path)
	return nil
}

// Close closes the opened database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("sqlite_closed", "path", dbPath)
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// WithWriteLock runs fn while holding the store write lock. Every
// mutating path in this package funnels through it, so writes stay
// strictly serialized at the store boundary even if a caller bypasses
// the coordinator queue. The lock is released on every exit path.
func WithWriteLock(fn func() error) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	return fn()
}

// InitSchema idempotently ensures the required tables exist and checks
// the persisted schema version. An incompatible database or unwritable
// path yields an *InitError; the caller must treat that as fatal.
func InitSchema() error {
	if db == nil {
		return &InitError{Reason: "store not opened"}
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	payload    TEXT,
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);

CREATE TABLE IF NOT EXISTS fetch_tasks (
	id               TEXT PRIMARY KEY,
	target           TEXT NOT NULL,
	attempt          INTEGER NOT NULL,
	max_attempts     INTEGER NOT NULL,
	next_eligible_at INTEGER,
	status           TEXT NOT NULL,
	last_error       TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_updated ON fetch_tasks(updated_at);

CREATE TABLE IF NOT EXISTS schema_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	return WithWriteLock(func() error {
		if _, err := db.Exec(ddl); err != nil {
			return &InitError{Reason: "schema create failed", Err: err}
		}
		var v string
		err := db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&v)
		switch {
		case err == sql.ErrNoRows:
			if _, err := db.Exec(`INSERT INTO schema_meta(key, value) VALUES('schema_version', ?)`,
				fmt.Sprintf("%d", schemaVersion)); err != nil {
				return &InitError{Reason: "schema version write failed", Err: err}
			}
		case err != nil:
			return &InitError{Reason: "schema version read failed", Err: err}
		case v != fmt.Sprintf("%d", schemaVersion):
			return &InitError{Reason: fmt.Sprintf("incompatible schema version %s (want %d)", v, schemaVersion)}
		}
		logger.Info("schema_ready", "version", schemaVersion)
		return nil
	})
}

// Execute runs one pending operation inside a single transaction under
// the write lock. The mutation either fully commits or leaves no
// persisted effect. Version preconditions are checked against the
// committed row; a mismatch fails with ErrConflict and writes nothing.
func Execute(op *models.PendingOperation) (*models.Record, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	var rec *models.Record
	err := WithWriteLock(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		r, err := executeInTx(tx, op)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func executeInTx(tx *sql.Tx, op *models.PendingOperation) (*models.Record, error) {
	now := time.Now().UTC().UnixNano()
	var cur models.Record
	var curPayload sql.NullString
	err := tx.QueryRow(`SELECT id, payload, version, created_at, updated_at FROM records WHERE id = ?`,
		op.RecordID).Scan(&cur.ID, &curPayload, &cur.Version, &cur.CreatedAt, &cur.UpdatedAt)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if curPayload.Valid {
		cur.Payload = []byte(curPayload.String)
	}

	switch op.Kind {
	case models.OpInsert:
		if exists {
			return nil, ErrAlreadyExists
		}
		rec := &models.Record{ID: op.RecordID, Payload: op.Payload, Version: 1, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.Exec(`INSERT INTO records(id, payload, version, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
			rec.ID, string(rec.Payload), rec.Version, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return nil, err
		}
		return rec, nil

	case models.OpUpdate:
		if !exists {
			return nil, ErrNotFound
		}
		if op.ExpectedVersion != 0 && op.ExpectedVersion != cur.Version {
			return nil, ErrConflict
		}
		rec := &models.Record{ID: cur.ID, Payload: op.Payload, Version: cur.Version + 1, CreatedAt: cur.CreatedAt, UpdatedAt: now}
		if _, err := tx.Exec(`UPDATE records SET payload = ?, version = ?, updated_at = ? WHERE id = ?`,
			string(rec.Payload), rec.Version, rec.UpdatedAt, rec.ID); err != nil {
			return nil, err
		}
		return rec, nil

	case models.OpDelete:
		if !exists {
			return nil, ErrNotFound
		}
		if op.ExpectedVersion != 0 && op.ExpectedVersion != cur.Version {
			return nil, ErrConflict
		}
		if _, err := tx.Exec(`DELETE FROM records WHERE id = ?`, op.RecordID); err != nil {
			return nil, err
		}
		return &cur, nil

	default:
		return nil, fmt.Errorf("unknown op kind: %s", op.Kind)
	}
}

// ReadRecord returns the record for id, or ErrNotFound. Reads take no
// lock; they observe a consistent snapshot that may be superseded
// immediately. Callers needing strong consistency use version-checked
// writes.
func ReadRecord(id string) (*models.Record, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	var rec models.Record
	var payload sql.NullString
	err := db.QueryRow(`SELECT id, payload, version, created_at, updated_at FROM records WHERE id = ?`,
		id).Scan(&rec.ID, &payload, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}
	return &rec, nil
}

// ListRecords returns up to limit records, most recently updated first.
func ListRecords(limit int) ([]*models.Record, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT id, payload, version, created_at, updated_at FROM records ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		var rec models.Record
		var payload sql.NullString
		if err := rows.Scan(&rec.ID, &payload, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneRecords deletes up to batch records last updated before cutoff
// (nanoseconds) and returns how many were removed.
func PruneRecords(cutoff int64, batch int) (int64, error) {
	if db == nil {
		return 0, ErrNotOpen
	}
	if batch <= 0 {
		batch = 500
	}
	var n int64
	err := WithWriteLock(func() error {
		res, err := db.Exec(`DELETE FROM records WHERE id IN (SELECT id FROM records WHERE updated_at < ? LIMIT ?)`, cutoff, batch)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// PruneTasks deletes up to batch terminal fetch task rows last updated
// before cutoff (nanoseconds) and returns how many were removed. Rows
// still pending or in flight are kept regardless of age.
func PruneTasks(cutoff int64, batch int) (int64, error) {
	if db == nil {
		return 0, ErrNotOpen
	}
	if batch <= 0 {
		batch = 500
	}
	var n int64
	err := WithWriteLock(func() error {
		res, err := db.Exec(`DELETE FROM fetch_tasks WHERE id IN (
			SELECT id FROM fetch_tasks WHERE updated_at < ? AND status IN (?, ?) LIMIT ?)`,
			cutoff, string(models.TaskSucceeded), string(models.TaskFailed), batch)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// SaveTask upserts a fetch task row. Task state transitions funnel
// through here so every state is observable via the API.
func SaveTask(t *models.FetchTask) error {
	if db == nil {
		return ErrNotOpen
	}
	t.UpdatedAt = time.Now().UTC().UnixNano()
	return WithWriteLock(func() error {
		_, err := db.Exec(`INSERT INTO fetch_tasks(id, target, attempt, max_attempts, next_eligible_at, status, last_error, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				attempt = excluded.attempt,
				next_eligible_at = excluded.next_eligible_at,
				status = excluded.status,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at`,
			t.ID, t.Target, t.Attempt, t.MaxAttempts, t.NextEligible, string(t.Status), t.LastError, t.CreatedAt, t.UpdatedAt)
		return err
	})
}

// GetTask returns the fetch task for id, or ErrNotFound.
func GetTask(id string) (*models.FetchTask, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	var t models.FetchTask
	var lastErr sql.NullString
	err := db.QueryRow(`SELECT id, target, attempt, max_attempts, next_eligible_at, status, last_error, created_at, updated_at
		FROM fetch_tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Target, &t.Attempt, &t.MaxAttempts, &t.NextEligible, &t.Status, &lastErr, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.LastError = lastErr.String
	return &t, nil
}

// ListTasks returns up to limit fetch tasks, most recent first.
func ListTasks(limit int) ([]*models.FetchTask, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT id, target, attempt, max_attempts, next_eligible_at, status, last_error, created_at, updated_at
		FROM fetch_tasks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.FetchTask
	for rows.Next() {
		var t models.FetchTask
		var lastErr sql.NullString
		if err := rows.Scan(&t.ID, &t.Target, &t.Attempt, &t.MaxAttempts, &t.NextEligible, &t.Status, &lastErr, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.LastError = lastErr.String
		out = append(out, &t)
	}
	return out, rows.Err()
}
