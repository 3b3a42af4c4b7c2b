// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/contracts-hub/internal/contracts"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionCreate  AuditAction = "CREATE"
	AuditActionUpdate  AuditAction = "UPDATE"
	AuditActionDelete  AuditAction = "DELETE"
	AuditActionRestore AuditAction = "RESTORE"
	AuditActionImport  AuditAction = "IMPORT"
)

// DefaultAuditLimit is the number of entries returned when no limit is given
const DefaultAuditLimit = 100

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           int64               `json:"id"`
	Action       string              `json:"action"`
	UserRole     string              `json:"userRole"`
	UserID       string              `json:"userId,omitempty"`
	ContractID   *int64              `json:"contractId"`
	ContractData *contracts.Contract `json:"contractData"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// AuditLogStore manages audit logs
type AuditLogStore struct {
	db *sql.DB
}

// NewAuditLogStore creates a new audit log store
func NewAuditLogStore(db *sql.DB) (*AuditLogStore, error) {
	store := &AuditLogStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit logs schema: %w", err)
	}
	return store, nil
}

func (s *AuditLogStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		user_role TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		contract_id INTEGER,
		contract_data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LogAction records an action on a contract. snapshot may be nil.
func (s *AuditLogStore) LogAction(action AuditAction, role, userID string, contractID int64, snapshot *contracts.Contract) error {
	return logAction(s.db, action, role, userID, contractID, snapshot)
}

func logAction(ex execer, action AuditAction, role, userID string, contractID int64, snapshot *contracts.Contract) error {
	var data sql.NullString
	if snapshot != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode contract snapshot: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	var cid sql.NullInt64
	if contractID > 0 {
		cid = sql.NullInt64{Int64: contractID, Valid: true}
	}

	if role == "" {
		role = "unknown"
	}

	_, err := ex.Exec(
		"INSERT INTO audit_log (action, user_role, user_id, contract_id, contract_data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(action), role, userID, cid, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// GetRecentLogs returns the newest entries first. limit <= 0 means
// DefaultAuditLimit; an empty actionFilter returns every action.
func (s *AuditLogStore) GetRecentLogs(limit int, actionFilter string) ([]AuditLog, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := "SELECT id, action, user_role, user_id, contract_id, contract_data, created_at FROM audit_log"
	var args []interface{}
	if actionFilter != "" {
		query += " WHERE action = ?"
		args = append(args, actionFilter)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			entry AuditLog
			cid   sql.NullInt64
			data  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.UserRole, &entry.UserID, &cid, &data, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if cid.Valid {
			id := cid.Int64
			entry.ContractID = &id
		}
		if data.Valid && data.String != "" {
			var c contracts.Contract
			if err := json.Unmarshal([]byte(data.String), &c); err != nil {
				log.Printf("GetRecentLogs: bad snapshot in entry %d: %v", entry.ID, err)
			} else {
				entry.ContractData = &c
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// Restore re-creates the contract deleted in the DELETE entry logID and
// records a RESTORE entry, in one transaction. It returns the new id.
func (s *AuditLogStore) Restore(logID int64, role, userID string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var data sql.NullString
	err = tx.QueryRow("SELECT contract_data FROM audit_log WHERE id = ? AND action = ?", logID, string(AuditActionDelete)).Scan(&data)
	if err == sql.ErrNoRows || (err == nil && (!data.Valid || data.String == "")) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load audit entry: %w", err)
	}

	var c contracts.Contract
	if err := json.Unmarshal([]byte(data.String), &c); err != nil {
		return 0, fmt.Errorf("failed to decode deleted contract: %w", err)
	}

	newID, err := insertContract(tx, c)
	if err != nil {
		return 0, err
	}
	c.ID = newID

	if err := logAction(tx, AuditActionRestore, role, userID, newID, &c); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit restore: %w", err)
	}

	log.Printf("Restore: audit entry %d restored as contract %d by %s", logID, newID, role)
	return newID, nil
}
