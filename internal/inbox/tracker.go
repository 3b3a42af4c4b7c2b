// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package inbox

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/contracts-hub/internal/logger"
)

// File statuses recorded by the tracker
const (
	StatusImported = "imported"
	StatusQueued   = "queued"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Tracker remembers which workbooks were already imported, by content hash
type Tracker struct {
	db *sql.DB
}

// TrackedFile is a workbook seen by the inbox
type TrackedFile struct {
	FilePath string
	FileHash string
	Status   string
}

// Decision says whether a file needs importing
type Decision struct {
	FilePath      string
	FileHash      string
	ShouldProcess bool
	Reason        string
}

// NewTracker opens the tracker database in dir
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "inbox.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open inbox database: %w", err)
	}

	t := &Tracker{db: db}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize inbox schema: %w", err)
	}
	return t, nil
}

// Close closes the database connection
func (t *Tracker) Close() error {
	return t.db.Close()
}

func (t *Tracker) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tracked_files (
		file_path TEXT PRIMARY KEY,
		file_hash TEXT NOT NULL,
		last_processed DATETIME DEFAULT CURRENT_TIMESTAMP,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_tracked_files_hash ON tracked_files(file_hash);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Get returns the tracked file at path, or nil
func (t *Tracker) Get(filePath string) (*TrackedFile, error) {
	var tf TrackedFile
	err := t.db.QueryRow(
		"SELECT file_path, file_hash, status FROM tracked_files WHERE file_path = ?",
		filePath,
	).Scan(&tf.FilePath, &tf.FileHash, &tf.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked file: %w", err)
	}
	return &tf, nil
}

// Mark records the outcome of importing a file
func (t *Tracker) Mark(d *Decision, status string) error {
	const query = `
		INSERT INTO tracked_files (file_path, file_hash, status, last_processed)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(file_path) DO UPDATE SET
			file_hash = excluded.file_hash,
			status = excluded.status,
			last_processed = CURRENT_TIMESTAMP
	`
	if _, err := t.db.Exec(query, d.FilePath, d.FileHash, status); err != nil {
		return fmt.Errorf("failed to update tracked file: %w", err)
	}
	return nil
}

// Decide checks a file against what was already imported. A failed import
// is retried; an unchanged file that was imported or queued is skipped.
func (t *Tracker) Decide(filePath string) (*Decision, error) {
	d := &Decision{FilePath: filePath}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		d.Reason = "file is empty"
		return d, nil
	}

	hash, err := hashFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	d.FileHash = hash

	tracked, err := t.Get(filePath)
	if err != nil {
		return nil, err
	}

	switch {
	case tracked == nil:
		d.ShouldProcess = true
		d.Reason = "new file"
	case tracked.FileHash != hash:
		d.ShouldProcess = true
		d.Reason = "file changed"
	case tracked.Status == StatusFailed:
		d.ShouldProcess = true
		d.Reason = "previous import failed"
	default:
		d.Reason = "file unchanged"
	}
	logger.Debugf("Inbox: %s: %s", filePath, d.Reason)
	return d, nil
}

func hashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
