// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/database"
)

type testEnv struct {
	handler http.Handler
	stores  *database.Stores
	users   map[string]*database.User
}

func newTestEnv(t *testing.T, hub *WebSocketManager) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "contracts.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stores, err := database.NewStores(db)
	if err != nil {
		t.Fatalf("NewStores failed: %v", err)
	}

	env := &testEnv{
		handler: Routes(Options{Stores: stores, Hub: hub}),
		stores:  stores,
		users:   map[string]*database.User{},
	}
	all, _ := stores.Users.GetAllUsers()
	for i := range all {
		env.users[all[i].Role] = &all[i]
	}
	return env
}

func (e *testEnv) do(t *testing.T, role, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if role != "" {
		u := e.users[role]
		req.Header.Set(HeaderUserID, strconv.FormatInt(u.ID, 10))
		req.Header.Set(HeaderUserRole, u.Role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

func newContract(org string) contracts.Contract {
	return contracts.Contract{
		OrganizationName: org,
		ContractNumber:   "N-" + org,
		ExpirationDate:   "2099-12-31",
		Amount:           "1 000,50",
	}
}

func (e *testEnv) createContract(t *testing.T, org string) int64 {
	t.Helper()
	rec := e.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", newContract(org))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID      int64  `json:"id"`
		Message string `json:"message"`
	}
	decode(t, rec, &resp)
	if resp.Message != "Contract created" {
		t.Errorf("message = %q", resp.Message)
	}
	return resp.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "", http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(t, "", http.MethodGet, "/api/contracts", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no identity: expected 401, got %d", rec.Code)
	}

	admin := env.users[contracts.RoleAdmin]
	rec := env.do(t, "", http.MethodGet, "/api/contracts", nil,
		HeaderUserID, strconv.FormatInt(admin.ID, 10), HeaderUserRole, contracts.RoleAccountant)
	if rec.Code != http.StatusForbidden {
		t.Errorf("role mismatch: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, "", http.MethodGet, "/api/contracts", nil, HeaderUserID, "999", HeaderUserRole, contracts.RoleAdmin)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"login": "meneger", "password": "Qwerty44"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool          `json:"success"`
		User    database.User `json:"user"`
	}
	decode(t, rec, &resp)
	if !resp.Success || resp.User.Role != contracts.RoleManager {
		t.Errorf("unexpected login response %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash leaked in login response")
	}

	rec = env.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"login": "meneger", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: expected 401, got %d", rec.Code)
	}
}

func TestContractsCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createContract(t, "Alpha")

	rec := env.do(t, contracts.RoleAccountant, http.MethodGet, "/api/contracts", nil)
	var list struct {
		Contracts []contracts.Contract `json:"contracts"`
	}
	decode(t, rec, &list)
	if len(list.Contracts) != 1 || list.Contracts[0].ID != id || list.Contracts[0].OrganizationName != "Alpha" {
		t.Fatalf("unexpected list %+v", list.Contracts)
	}

	c := newContract("Alpha Updated")
	rec = env.do(t, contracts.RoleManager, http.MethodPut, "/api/contracts", c)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Contract ID required" {
		t.Errorf("PUT without id: got %d %s", rec.Code, rec.Body.String())
	}

	c.ID = id
	if rec = env.do(t, contracts.RoleManager, http.MethodPut, "/api/contracts", c); rec.Code != http.StatusOK {
		t.Fatalf("PUT returned %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := env.stores.Contracts.Get(id)
	if got.OrganizationName != "Alpha Updated" {
		t.Errorf("update not stored: %+v", got)
	}

	c.ID = 9999
	if rec = env.do(t, contracts.RoleManager, http.MethodPut, "/api/contracts", c); rec.Code != http.StatusNotFound {
		t.Errorf("PUT unknown id: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, contracts.RoleManager, http.MethodDelete, "/api/contracts", nil)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Contract ID required" {
		t.Errorf("DELETE without id: got %d %s", rec.Code, rec.Body.String())
	}

	target := fmt.Sprintf("/api/contracts?id=%d", id)
	if rec = env.do(t, contracts.RoleManager, http.MethodDelete, target, nil); rec.Code != http.StatusOK {
		t.Fatalf("DELETE returned %d", rec.Code)
	}
	if rec = env.do(t, contracts.RoleManager, http.MethodDelete, target, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE: expected 404, got %d", rec.Code)
	}

	if rec = env.do(t, contracts.RoleManager, http.MethodPatch, "/api/contracts", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH: expected 405, got %d", rec.Code)
	}
}

func TestContracts_ValidationAndRoles(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, contracts.RoleAccountant, http.MethodPost, "/api/contracts", newContract("Nope"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("accountant POST: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", contracts.Contract{OrganizationName: "No expiry"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing expiration: expected 400, got %d", rec.Code)
	}
}

func TestContracts_FilterAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createContract(t, "Alpha")
	expired := newContract("Old Beta")
	expired.ExpirationDate = "01.01.2001"
	env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", expired)

	rec := env.do(t, contracts.RoleManager, http.MethodGet, "/api/contracts?status=expired", nil)
	var list struct {
		Contracts []contracts.Contract `json:"contracts"`
	}
	decode(t, rec, &list)
	if len(list.Contracts) != 1 || list.Contracts[0].OrganizationName != "Old Beta" {
		t.Errorf("status filter returned %+v", list.Contracts)
	}

	rec = env.do(t, contracts.RoleManager, http.MethodGet, "/api/contracts?q=alp", nil)
	decode(t, rec, &list)
	if len(list.Contracts) != 1 || list.Contracts[0].OrganizationName != "Alpha" {
		t.Errorf("search returned %+v", list.Contracts)
	}

	rec = env.do(t, contracts.RoleAccountant, http.MethodGet, "/api/contracts/stats", nil)
	var stats contracts.Stats
	decode(t, rec, &stats)
	if stats.Total != 2 || stats.Expired != 1 || stats.Active != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestIdempotentPost(t *testing.T) {
	env := newTestEnv(t, nil)
	key := "7b0c1d2e-replay"

	first := env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", newContract("Once"), HeaderIdempotencyKey, key)
	second := env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", newContract("Once"), HeaderIdempotencyKey, key)

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Error("expected replay header on second response")
	}

	list, _ := env.stores.Contracts.List()
	if len(list) != 1 {
		t.Errorf("expected exactly one contract, got %d", len(list))
	}
}

func TestAuditLogRestore(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createContract(t, "Restorable")
	env.do(t, contracts.RoleManager, http.MethodDelete, fmt.Sprintf("/api/contracts?id=%d", id), nil)

	if rec := env.do(t, contracts.RoleManager, http.MethodGet, "/api/audit-logs", nil); rec.Code != http.StatusForbidden {
		t.Errorf("manager audit access: expected 403, got %d", rec.Code)
	}

	rec := env.do(t, contracts.RoleAdmin, http.MethodGet, "/api/audit-logs?action=DELETE", nil)
	var logs struct {
		Logs []database.AuditLog `json:"logs"`
	}
	decode(t, rec, &logs)
	if len(logs.Logs) != 1 || logs.Logs[0].ContractData == nil {
		t.Fatalf("expected one DELETE entry with a snapshot, got %+v", logs.Logs)
	}

	rec = env.do(t, contracts.RoleAdmin, http.MethodPost, "/api/audit-logs", map[string]string{})
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Log ID required" {
		t.Errorf("restore without id: got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, contracts.RoleAdmin, http.MethodPost, "/api/audit-logs", map[string]int64{"logId": 9999})
	if rec.Code != http.StatusNotFound || errorOf(t, rec) != "Deleted contract not found" {
		t.Errorf("restore unknown entry: got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, contracts.RoleAdmin, http.MethodPost, "/api/audit-logs", map[string]int64{"logId": logs.Logs[0].ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("restore returned %d: %s", rec.Code, rec.Body.String())
	}
	var restored struct {
		ID      int64  `json:"id"`
		Message string `json:"message"`
	}
	decode(t, rec, &restored)
	if restored.Message != "Contract restored" {
		t.Errorf("message = %q", restored.Message)
	}
	c, err := env.stores.Contracts.Get(restored.ID)
	if err != nil || c.OrganizationName != "Restorable" {
		t.Errorf("restored contract = %+v, %v", c, err)
	}
}

func TestExportImport(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createContract(t, "Alpha")
	env.createContract(t, "Beta")

	rec := env.do(t, contracts.RoleAccountant, http.MethodGet, "/api/contracts/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export returned %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "spreadsheetml") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
		t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	workbook := rec.Body.Bytes()

	if rec = env.do(t, contracts.RoleAccountant, http.MethodPost, "/api/contracts/import", workbook); rec.Code != http.StatusForbidden {
		t.Errorf("accountant import: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts/import", workbook)
	if rec.Code != http.StatusOK {
		t.Fatalf("import returned %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Imported int `json:"imported"`
	}
	decode(t, rec, &result)
	if result.Imported != 2 {
		t.Errorf("imported = %d, want 2", result.Imported)
	}

	list, _ := env.stores.Contracts.List()
	if len(list) != 4 {
		t.Errorf("expected 4 contracts after import, got %d", len(list))
	}
	logs, _ := env.stores.AuditLogs.GetRecentLogs(0, string(database.AuditActionImport))
	if len(logs) != 2 {
		t.Errorf("expected 2 IMPORT audit entries, got %d", len(logs))
	}

	rec = env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts/import", []byte("garbage"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage import: expected 400, got %d", rec.Code)
	}
}

func TestImportSourceHeaderAuditsImport(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, contracts.RoleManager, http.MethodPost, "/api/contracts", newContract("From inbox"), SourceHeader, "import")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d", rec.Code)
	}
	logs, _ := env.stores.AuditLogs.GetRecentLogs(0, "")
	if len(logs) != 1 || logs[0].Action != string(database.AuditActionImport) {
		t.Errorf("expected one IMPORT entry, got %+v", logs)
	}
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(t, contracts.RoleManager, http.MethodGet, "/api/users", nil); rec.Code != http.StatusForbidden {
		t.Errorf("manager users access: expected 403, got %d", rec.Code)
	}

	newUser := map[string]string{"login": "ivanov", "password": "secret", "name": "Иванов", "role": contracts.RoleAccountant}
	rec := env.do(t, contracts.RoleAdmin, http.MethodPost, "/api/users", newUser)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user returned %d: %s", rec.Code, rec.Body.String())
	}
	var created database.User
	decode(t, rec, &created)

	if rec = env.do(t, contracts.RoleAdmin, http.MethodPost, "/api/users", newUser); rec.Code != http.StatusConflict {
		t.Errorf("duplicate login: expected 409, got %d", rec.Code)
	}

	target := fmt.Sprintf("/api/users/%d", created.ID)
	if rec = env.do(t, contracts.RoleAdmin, http.MethodPut, target, map[string]string{"role": "boss"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role: expected 400, got %d", rec.Code)
	}
	if rec = env.do(t, contracts.RoleAdmin, http.MethodPut, target, map[string]string{"role": contracts.RoleManager}); rec.Code != http.StatusOK {
		t.Errorf("role update returned %d", rec.Code)
	}
	u, _ := env.stores.Users.GetUser(created.ID)
	if u.Role != contracts.RoleManager {
		t.Errorf("role = %s, want manager", u.Role)
	}

	self := fmt.Sprintf("/api/users/%d", env.users[contracts.RoleAdmin].ID)
	if rec = env.do(t, contracts.RoleAdmin, http.MethodDelete, self, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("self delete: expected 400, got %d", rec.Code)
	}
	if rec = env.do(t, contracts.RoleAdmin, http.MethodDelete, target, nil); rec.Code != http.StatusOK {
		t.Errorf("delete returned %d", rec.Code)
	}
	if rec = env.do(t, contracts.RoleAdmin, http.MethodGet, target, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted user: expected 404, got %d", rec.Code)
	}
}

func TestStaticShell(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/", "/index.html", "/manifest.json", "/contracts/42"} {
		rec := env.do(t, "", http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
	if rec := env.do(t, "", http.MethodGet, "/index.html", nil); !strings.Contains(rec.Body.String(), "<html") {
		t.Errorf("expected app shell, got %q", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "", http.MethodOptions, "/api/contracts", nil,
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Content-Type, X-User-Role")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestWebSocketBroadcastsContractChanges(t *testing.T) {
	hub := NewWebSocketManager(nil)
	defer hub.Stop()
	env := newTestEnv(t, hub)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?client_id=test"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	id := env.createContract(t, "Broadcast")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data ContractChange `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != EventContractChanged || msg.Data.ContractID != id || msg.Data.Action != "CREATE" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Data.Revision != 1 {
		t.Errorf("revision = %d, want 1", msg.Data.Revision)
	}
}
