// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/database"
)

// HandleUsers handles GET (list) and POST (create) on /api/users
func HandleUsers(w http.ResponseWriter, r *http.Request, users *database.UserStore) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, ok := requireRole(w, r, contracts.CanManageUsers); !ok {
		return
	}

	if r.Method == http.MethodGet {
		all, err := users.GetAllUsers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": all})
		return
	}

	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := users.CreateUser(req.Login, req.Password, req.Name, req.Role)
	switch {
	case errors.Is(err, database.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, database.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleUser handles /api/users/{id}: GET, PUT ({"role"} and/or
// {"password"}) and DELETE
func HandleUser(w http.ResponseWriter, r *http.Request, users *database.UserStore) {
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		methodNotAllowed(w)
		return
	}
	current, ok := requireRole(w, r, contracts.CanManageUsers)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/users/"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "User ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := users.GetUser(id)
		if err != nil {
			writeUserError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodPut:
		var req struct {
			Role     string `json:"role"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Role == "" && req.Password == "" {
			writeError(w, http.StatusBadRequest, "role or password is required")
			return
		}
		if req.Role != "" {
			if err := users.UpdateUserRole(id, req.Role); err != nil {
				writeUserError(w, err)
				return
			}
		}
		if req.Password != "" {
			if err := users.UpdateUserPassword(id, req.Password); err != nil {
				writeUserError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case http.MethodDelete:
		if id == current.ID {
			writeError(w, http.StatusBadRequest, "cannot delete yourself")
			return
		}
		if err := users.DeleteUser(id); err != nil {
			writeUserError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, database.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
