// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/database"
)

// HandleAuditLogs handles /api/audit-logs: GET lists recent entries, POST
// {"logId": n} restores the contract removed by a DELETE entry. Admin only.
func (a *ContractsAPI) HandleAuditLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}
	user, ok := requireRole(w, r, contracts.CanManageUsers)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		limit := database.DefaultAuditLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
				limit = n
			}
		}

		logs, err := a.stores.AuditLogs.GetRecentLogs(limit, r.URL.Query().Get("action"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
		return
	}

	var req struct {
		LogID int64 `json:"logId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LogID <= 0 {
		writeError(w, http.StatusBadRequest, "Log ID required")
		return
	}

	id, err := a.stores.AuditLogs.Restore(req.LogID, user.Role, strconv.FormatInt(user.ID, 10))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Deleted contract not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.changed(database.AuditActionRestore, id, 0)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"message": "Contract restored",
	})
}
