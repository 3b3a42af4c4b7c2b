// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// StoredResponse is the response recorded for an idempotency key
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore remembers the response of every keyed request so a
// replayed request gets the same answer instead of a second write
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(db *sql.DB) (*IdempotencyStore, error) {
	store := &IdempotencyStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize idempotency schema: %w", err)
	}
	return store, nil
}

func (s *IdempotencyStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		body BLOB,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the response stored for key, if any
func (s *IdempotencyStore) Lookup(key string) (*StoredResponse, bool, error) {
	var resp StoredResponse
	err := s.db.QueryRow("SELECT status, body FROM idempotency_keys WHERE key = ?", key).Scan(&resp.Status, &resp.Body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &resp, true, nil
}

// Save records the response for key. A key saved twice keeps the first response.
func (s *IdempotencyStore) Save(key, method, path string, resp StoredResponse) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO idempotency_keys (key, method, path, status, body, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		key, strings.ToUpper(method), path, resp.Status, resp.Body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

// Purge deletes keys older than maxAge and returns how many were removed
func (s *IdempotencyStore) Purge(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec("DELETE FROM idempotency_keys WHERE created_at < ?", time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
