// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/contracts-hub/internal/contracts"
)

// ContractStore manages contracts
type ContractStore struct {
	db *sql.DB
}

// NewContractStore creates a new contract store
func NewContractStore(db *sql.DB) (*ContractStore, error) {
	store := &ContractStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize contracts schema: %w", err)
	}
	return store, nil
}

func (s *ContractStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS contracts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_name TEXT NOT NULL,
		contract_number TEXT NOT NULL DEFAULT '',
		contract_date TEXT NOT NULL DEFAULT '',
		expiration_date TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '',
		sbis TEXT NOT NULL DEFAULT '',
		eis TEXT NOT NULL DEFAULT '',
		work_act TEXT NOT NULL DEFAULT '',
		contact_person TEXT NOT NULL DEFAULT '',
		contact_phone TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_expiration ON contracts(expiration_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

const contractColumns = `id, organization_name, contract_number, contract_date, expiration_date,
	amount, sbis, eis, work_act, contact_person, contact_phone`

func scanContract(row interface{ Scan(...interface{}) error }) (contracts.Contract, error) {
	var c contracts.Contract
	err := row.Scan(&c.ID, &c.OrganizationName, &c.ContractNumber, &c.ContractDate, &c.ExpirationDate,
		&c.Amount, &c.SBIS, &c.EIS, &c.WorkAct, &c.ContactPerson, &c.ContactPhone)
	return c, err
}

// List returns every contract, newest first
func (s *ContractStore) List() ([]contracts.Contract, error) {
	rows, err := s.db.Query("SELECT " + contractColumns + " FROM contracts ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	list := []contracts.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Get returns the contract with id
func (s *ContractStore) Get(id int64) (*contracts.Contract, error) {
	c, err := scanContract(s.db.QueryRow("SELECT "+contractColumns+" FROM contracts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}

// Create inserts c and returns its new id
func (s *ContractStore) Create(c contracts.Contract) (int64, error) {
	return insertContract(s.db, c)
}

func insertContract(ex execer, c contracts.Contract) (int64, error) {
	res, err := ex.Exec(`
		INSERT INTO contracts (
			organization_name, contract_number, contract_date, expiration_date,
			amount, sbis, eis, work_act, contact_person, contact_phone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OrganizationName, c.ContractNumber, c.ContractDate, c.ExpirationDate,
		c.Amount, c.SBIS, c.EIS, c.WorkAct, c.ContactPerson, c.ContactPhone,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert contract: %w", err)
	}
	return res.LastInsertId()
}

// Update overwrites the contract with c.ID
func (s *ContractStore) Update(c contracts.Contract) error {
	res, err := s.db.Exec(`
		UPDATE contracts SET
			organization_name = ?, contract_number = ?, contract_date = ?, expiration_date = ?,
			amount = ?, sbis = ?, eis = ?, work_act = ?, contact_person = ?, contact_phone = ?,
			updated_at = ?
		WHERE id = ?`,
		c.OrganizationName, c.ContractNumber, c.ContractDate, c.ExpirationDate,
		c.Amount, c.SBIS, c.EIS, c.WorkAct, c.ContactPerson, c.ContactPhone,
		time.Now(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the contract with id and returns what was deleted
func (s *ContractStore) Delete(id int64) (*contracts.Contract, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := scanContract(tx.QueryRow("SELECT "+contractColumns+" FROM contracts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM contracts WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete contract: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &c, nil
}
