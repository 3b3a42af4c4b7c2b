// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package interceptor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCacheStorage keeps caches in a SQLite file so they survive restarts
type SQLiteCacheStorage struct {
	db *sql.DB
}

// NewSQLiteCacheStorage opens (or creates) the cache database at path
func NewSQLiteCacheStorage(path string) (*SQLiteCacheStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &SQLiteCacheStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCacheStorage) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS caches (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS cache_entries (
		cache_name TEXT NOT NULL,
		request_key TEXT NOT NULL,
		status INTEGER NOT NULL,
		header TEXT NOT NULL,
		body BLOB,
		stored_at DATETIME NOT NULL,
		PRIMARY KEY (cache_name, request_key)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

func (s *SQLiteCacheStorage) Open(ctx context.Context, name string) (Cache, error) {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return &sqliteCache{storage: s, name: name}, nil
}

func (s *SQLiteCacheStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_name = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteCacheStorage) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.status, e.header, e.body, e.stored_at
		FROM cache_entries e JOIN caches c ON c.name = e.cache_name
		WHERE e.request_key = ?
		ORDER BY c.seq ASC LIMIT 1`, key)
	return scanCached(row)
}

// Close closes the database
func (s *SQLiteCacheStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	storage *SQLiteCacheStorage
	name    string
}

func (c *sqliteCache) Name() string { return c.name }

func (c *sqliteCache) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	row := c.storage.db.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND request_key = ?",
		c.name, key)
	return scanCached(row)
}

func (c *sqliteCache) Put(ctx context.Context, key string, resp *CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if _, err := c.storage.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", c.name); err != nil {
		return fmt.Errorf("failed to register cache %s: %w", c.name, err)
	}
	_, err = c.storage.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, request_key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, request_key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		c.name, key, resp.Status, string(header), resp.Body, resp.StoredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", key, c.name, err)
	}
	return nil
}

func scanCached(row *sql.Row) (*CachedResponse, bool, error) {
	var (
		resp     CachedResponse
		header   string
		storedAt time.Time
	)
	err := row.Scan(&resp.Status, &header, &resp.Body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached response: %w", err)
	}
	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached header: %w", err)
	}
	resp.StoredAt = storedAt
	return &resp, true, nil
}
