// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Open opens the SQLite database at path, creating its directory if needed
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	return db, nil
}

// Stores bundles every store of the contracts server
type Stores struct {
	Contracts   *ContractStore
	AuditLogs   *AuditLogStore
	Users       *UserStore
	Idempotency *IdempotencyStore
	Metadata    *MetadataStore
}

// NewStores initializes every store on db
func NewStores(db *sql.DB) (*Stores, error) {
	contracts, err := NewContractStore(db)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogStore(db)
	if err != nil {
		return nil, err
	}
	users, err := NewUserStore(db)
	if err != nil {
		return nil, err
	}
	idem, err := NewIdempotencyStore(db)
	if err != nil {
		return nil, err
	}
	metadata, err := NewMetadataStore(db)
	if err != nil {
		return nil, err
	}
	return &Stores{Contracts: contracts, AuditLogs: auditLogs, Users: users, Idempotency: idem, Metadata: metadata}, nil
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}
