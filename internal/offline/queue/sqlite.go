// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores the queue in a local SQLite file. The database is
// opened (and the schema created) on first use.
type SQLiteBackend struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// NewSQLiteBackend returns a backend for the database file at path
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

func (b *SQLiteBackend) open() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.db, nil
	}

	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", b.path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		headers TEXT NOT NULL,
		body TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	b.db = db
	return db, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, item Item) error {
	db, err := b.open()
	if err != nil {
		return err
	}

	headers, err := json.Marshal(item.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO sync_queue (id, url, method, headers, body, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)",
		item.ID, item.URL, item.Method, string(headers), item.Body, item.EnqueuedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]Item, error) {
	db, err := b.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, url, method, headers, body, enqueued_at FROM sync_queue ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var headers string
		if err := rows.Scan(&it.ID, &it.URL, &it.Method, &headers, &it.Body, &it.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &it.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers of %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	db, err := b.open()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// Close closes the database if it was opened
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
