// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/database"
	"github.com/contracts-hub/internal/excel"
)

// Event types broadcast to WebSocket clients
const (
	EventContractChanged = "contract_changed"
)

// SourceHeader marks contracts created by a workbook import on the agent
const SourceHeader = "X-Contract-Source"

// maxImportSize bounds an uploaded workbook
const maxImportSize = 20 << 20

// Notifier receives change events for connected clients
type Notifier interface {
	Broadcast(eventType, message string, data interface{})
}

// ContractChange is the payload of a contract_changed event
type ContractChange struct {
	Action     string `json:"action"`
	ContractID int64  `json:"contractId,omitempty"`
	Count      int    `json:"count,omitempty"`
	Revision   int64  `json:"revision"`
}

// ContractsAPI serves the contract endpoints
type ContractsAPI struct {
	stores   *database.Stores
	notifier Notifier
	now      func() time.Time
}

// NewContractsAPI creates the contract handlers. notifier may be nil.
func NewContractsAPI(stores *database.Stores, notifier Notifier) *ContractsAPI {
	return &ContractsAPI{stores: stores, notifier: notifier, now: time.Now}
}

// HandleContracts handles GET, POST, PUT and DELETE on /api/contracts
func (a *ContractsAPI) HandleContracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.list(w, r)
	case http.MethodPost:
		a.create(w, r)
	case http.MethodPut:
		a.update(w, r)
	case http.MethodDelete:
		a.delete(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (a *ContractsAPI) list(w http.ResponseWriter, r *http.Request) {
	list, err := a.stores.Contracts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	q := r.URL.Query()
	if q.Get("q") != "" || q.Get("status") != "" {
		list = contracts.Filter(list, q.Get("q"), q.Get("status"), a.now())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contracts": list})
}

func (a *ContractsAPI) create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, contracts.CanEditContracts)
	if !ok {
		return
	}

	var c contracts.Contract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := a.stores.Contracts.Create(c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.ID = id

	action := database.AuditActionCreate
	if r.Header.Get(SourceHeader) == "import" {
		action = database.AuditActionImport
	}
	a.audit(action, user, id, &c)
	a.changed(action, id, 0)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"message": "Contract created",
	})
}

func (a *ContractsAPI) update(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, contracts.CanEditContracts)
	if !ok {
		return
	}

	var c contracts.Contract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if c.ID == 0 {
		writeError(w, http.StatusBadRequest, "Contract ID required")
		return
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.stores.Contracts.Update(c); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Contract not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.audit(database.AuditActionUpdate, user, c.ID, &c)
	a.changed(database.AuditActionUpdate, c.ID, 0)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Contract updated"})
}

func (a *ContractsAPI) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, contracts.CanEditContracts)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Contract ID required")
		return
	}

	deleted, err := a.stores.Contracts.Delete(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Contract not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.audit(database.AuditActionDelete, user, id, deleted)
	a.changed(database.AuditActionDelete, id, 0)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Contract deleted"})
}

// HandleStats handles GET /api/contracts/stats
func (a *ContractsAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	list, err := a.stores.Contracts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, contracts.ComputeStats(list, a.now()))
}

// HandleExport handles GET /api/contracts/export, streaming a workbook of
// the (optionally filtered) contracts
func (a *ContractsAPI) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	list, err := a.stores.Contracts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	q := r.URL.Query()
	if q.Get("q") != "" || q.Get("status") != "" {
		list = contracts.Filter(list, q.Get("q"), q.Get("status"), a.now())
	}

	var buf bytes.Buffer
	if err := excel.Export(&buf, list); err != nil {
		log.Printf("Export failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := excel.FileName(a.now())
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(name)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleImport handles POST /api/contracts/import with a workbook body.
// Valid rows are created; invalid rows are reported and skipped.
func (a *ContractsAPI) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, ok := requireRole(w, r, contracts.CanEditContracts)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(data) > maxImportSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	result, err := excel.Import(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	imported := 0
	for _, c := range result.Contracts {
		id, err := a.stores.Contracts.Create(c)
		if err != nil {
			log.Printf("Import: failed to create contract %q: %v", c.OrganizationName, err)
			continue
		}
		c.ID = id
		a.audit(database.AuditActionImport, user, id, &c)
		imported++
	}
	if imported > 0 {
		a.changed(database.AuditActionImport, 0, imported)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": imported,
		"errors":   result.Errors,
	})
}

func (a *ContractsAPI) audit(action database.AuditAction, user *database.User, id int64, snapshot *contracts.Contract) {
	if err := a.stores.AuditLogs.LogAction(action, user.Role, strconv.FormatInt(user.ID, 10), id, snapshot); err != nil {
		log.Printf("Warning: failed to write audit entry %s for contract %d: %v", action, id, err)
	}
}

func (a *ContractsAPI) changed(action database.AuditAction, id int64, count int) {
	rev, err := a.stores.Metadata.BumpRevision()
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	if a.notifier == nil {
		return
	}
	a.notifier.Broadcast(EventContractChanged, fmt.Sprintf("contract %s", action), ContractChange{
		Action:     string(action),
		ContractID: id,
		Count:      count,
		Revision:   rev,
	})
}
