// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"log"
	"net/http"

	"github.com/contracts-hub/internal/database"
)

// HandleHealth handles GET /health. The agent's heartbeat expects status "ok".
func HandleHealth(w http.ResponseWriter, r *http.Request, meta *database.MetadataStore) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	response := map[string]interface{}{"status": "ok"}
	if meta != nil {
		if installed, err := meta.InstallDate(); err == nil {
			response["installedAt"] = installed.Format("2006-01-02")
		}
		if rev, err := meta.Revision(); err == nil {
			response["revision"] = rev
		} else {
			log.Printf("Warning: failed to read data revision: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, response)
}
