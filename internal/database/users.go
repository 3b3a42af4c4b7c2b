// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/contracts-hub/internal/contracts"
)

var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidRole        = errors.New("invalid role")
)

// bcryptCost is lowered by tests
var bcryptCost = bcrypt.DefaultCost

// User represents an application user
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type seedUser struct {
	login, password, name, role string
}

var defaultUsers = []seedUser{
	{"admhub", "Qwerty55", "Администратор", contracts.RoleAdmin},
	{"meneger", "Qwerty44", "Менеджер", contracts.RoleManager},
	{"buhgalter", "Qwerty33", "Бухгалтер", contracts.RoleAccountant},
}

// UserStore manages users
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store, seeding the default users into an
// empty table
func NewUserStore(db *sql.DB) (*UserStore, error) {
	store := &UserStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize users schema: %w", err)
	}
	if err := store.seed(); err != nil {
		return nil, fmt.Errorf("failed to seed users: %w", err)
	}
	return store, nil
}

func (s *UserStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *UserStore) seed() error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, u := range defaultUsers {
		if _, err := s.CreateUser(u.login, u.password, u.name, u.role); err != nil {
			return err
		}
	}
	log.Printf("[INFO] Seeded %d default users", len(defaultUsers))
	return nil
}

const userColumns = "id, login, name, role, password_hash, created_at"

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Login, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate returns the user if login and password match
func (s *UserStore) Authenticate(login, password string) (*User, error) {
	u, err := scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE login = ?", strings.TrimSpace(login)))
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetAllUsers returns every user ordered by id
func (s *UserStore) GetAllUsers() ([]User, error) {
	rows, err := s.db.Query("SELECT " + userColumns + " FROM users ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetUser returns the user with id
func (s *UserStore) GetUser(id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

// CreateUser adds a user with a bcrypt-hashed password
func (s *UserStore) CreateUser(login, password, name, role string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, errors.New("login and password are required")
	}
	if !contracts.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.Exec(
		"INSERT INTO users (login, name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		login, name, role, string(hash), time.Now().UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, _ := res.LastInsertId()
	return s.GetUser(id)
}

// UpdateUserRole changes a user's role
func (s *UserStore) UpdateUserRole(id int64, role string) error {
	if !contracts.ValidRole(role) {
		return ErrInvalidRole
	}
	return s.exec1("UPDATE users SET role = ? WHERE id = ?", role, id)
}

// UpdateUserPassword replaces a user's password
func (s *UserStore) UpdateUserPassword(id int64, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.exec1("UPDATE users SET password_hash = ? WHERE id = ?", string(hash), id)
}

// DeleteUser removes a user
func (s *UserStore) DeleteUser(id int64) error {
	return s.exec1("DELETE FROM users WHERE id = ?", id)
}

// exec1 runs a statement that must touch exactly one row
func (s *UserStore) exec1(query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
