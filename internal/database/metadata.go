// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

const (
	metaInstallDate = "install_date"
	metaRevision    = "data_revision"
)

// MetadataStore keeps server-wide key/value metadata: the install date and
// a revision counter bumped on every contract change
type MetadataStore struct {
	db *sql.DB
}

// NewMetadataStore creates a new metadata store
func NewMetadataStore(db *sql.DB) (*MetadataStore, error) {
	store := &MetadataStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize system_metadata schema: %w", err)
	}
	if err := store.ensureInstallDate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MetadataStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS system_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get retrieves a metadata value by key; a missing key yields ""
func (s *MetadataStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM system_metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata: %w", err)
	}
	return value, nil
}

// Set sets a metadata value by key
func (s *MetadataStore) Set(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO system_metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *MetadataStore) ensureInstallDate() error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO system_metadata (key, value) VALUES (?, ?)",
		metaInstallDate, time.Now().Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("failed to set install_date: %w", err)
	}
	return nil
}

// InstallDate returns the day the database was created
func (s *MetadataStore) InstallDate() (time.Time, error) {
	dateStr, err := s.Get(metaInstallDate)
	if err != nil {
		return time.Time{}, err
	}
	installDate, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse install_date: %w", err)
	}
	return installDate, nil
}

// BumpRevision increments the data revision and returns the new value
func (s *MetadataStore) BumpRevision() (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO system_metadata (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`, metaRevision)
	if err != nil {
		return 0, fmt.Errorf("failed to bump revision: %w", err)
	}
	return s.Revision()
}

// Revision returns the current data revision, 0 before the first change
func (s *MetadataStore) Revision() (int64, error) {
	v, err := s.Get(metaRevision)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
