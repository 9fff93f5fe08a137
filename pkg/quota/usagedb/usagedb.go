// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package usagedb implements the append-only usage log backing quota
// admission, stored in sqlite.
package usagedb

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
)

// Error is the usagedb error class.
var Error = errs.Class("usagedb error")

// EventDatasetIngested is recorded once per finalized ingestion.
const EventDatasetIngested = "dataset_ingested"

// Record is one append-only usage fact. UploadID deduplicates replayed
// finalizes.
type Record struct {
	UID       string
	Event     string
	UploadID  string
	Payload   string
	CreatedAt time.Time
}

// DB wraps the sqlite usage log.
type DB struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the usage log at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return initialize(db)
}

// OpenInMemory creates an in-memory usage log for testing.
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return initialize(db)
}

func initialize(db *sql.DB) (*DB, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT NOT NULL,
			event      TEXT NOT NULL,
			upload_id  TEXT NOT NULL UNIQUE,
			payload    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_uid_event_time
			ON usage_events (uid, event, created_at);
	`)
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}
	return &DB{db: db}, nil
}

// Add appends a record. Returns false when a record with the same upload id
// already exists, which makes replayed finalizes idempotent.
func (db *DB) Add(record Record) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.db.Exec(`
		INSERT OR IGNORE INTO usage_events (uid, event, upload_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.UID, record.Event, record.UploadID, record.Payload,
		record.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return false, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected > 0, nil
}

// CountSince returns how many events of the given type the uid has recorded
// at or after since.
func (db *DB) CountSince(uid, event string, since time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var count int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM usage_events
		WHERE uid = ? AND event = ? AND created_at >= ?`,
		uid, event, since.UTC().UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return count, nil
}

// FindInRange returns the uid's events of the given type within [from, to).
func (db *DB) FindInRange(uid, event string, from, to time.Time) ([]Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.db.Query(`
		SELECT uid, event, upload_id, payload, created_at FROM usage_events
		WHERE uid = ? AND event = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at`,
		uid, event, from.UTC().UnixNano(), to.UTC().UnixNano(),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var record Record
		var createdAt int64
		err := rows.Scan(&record.UID, &record.Event, &record.UploadID, &record.Payload, &createdAt)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		record.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, record)
	}
	return records, Error.Wrap(rows.Err())
}

// Close closes the usage log.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}
