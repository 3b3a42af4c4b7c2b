// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/contracts-hub/internal/database"
)

// HandleLogin handles POST /api/auth/login. The returned id and role are
// what the client sends back as X-User-Id and X-User-Role.
func HandleLogin(w http.ResponseWriter, r *http.Request, users *database.UserStore) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := users.Authenticate(req.Login, req.Password)
	if errors.Is(err, database.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Неверный логин или пароль")
		return
	}
	if err != nil {
		log.Printf("Login error for %q: %v", req.Login, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}
