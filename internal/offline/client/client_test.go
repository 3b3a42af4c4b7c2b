// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/interceptor"
	"github.com/contracts-hub/internal/offline/queue"
	"github.com/contracts-hub/internal/offline/syncer"
)

type downTransport struct {
	down atomic.Bool
}

func (d *downTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if d.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return http.DefaultTransport.RoundTrip(req)
}

type fixture struct {
	server    *httptest.Server
	lastKey   atomic.Value
	network   *downTransport
	backend   *queue.MemoryBackend
	store     *queue.Store
	client    *Client
	alerts    int
	published chan bus.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{network: &downTransport{}, backend: queue.NewMemoryBackend()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastKey.Store(r.Header.Get(syncer.IdempotencyHeader))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/unavailable" {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"maintenance"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":1}`)
	}))
	t.Cleanup(srv.Close)

	f.server = srv
	f.store = queue.NewStore(f.backend)

	ic, err := interceptor.New(interceptor.Options{
		Upstream:  srv.URL,
		Transport: f.network,
		Storage:   interceptor.NewMemoryCacheStorage(),
	})
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	f.published = b.Subscribe(8)
	f.client = New(ic, f.store, Options{
		Bus: b,
		Alert: func(title, message string) error {
			f.alerts++
			return nil
		},
	})
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, error) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Role", "manager")
	return f.client.Do(req)
}

func TestClient_OnlineMutationPassesThrough(t *testing.T) {
	f := newFixture(t)

	resp, err := f.post(t, "/api/contracts", `{"organizationName":"A"}`)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if n, _ := f.store.GetQueueLength(context.Background()); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestClient_OfflineMutationIsQueuedExactly(t *testing.T) {
	f := newFixture(t)
	f.network.down.Store(true)

	_, err := f.post(t, "/api/contracts", `{"organizationName":"A"}`)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("expected ErrQueued, got %v", err)
	}

	items, _ := f.store.GetQueue(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected one queued item, got %d", len(items))
	}
	it := items[0]
	if it.URL != f.server.URL+"/api/contracts" || it.Method != http.MethodPost || it.Body != `{"organizationName":"A"}` {
		t.Errorf("queued item does not match request: %+v", it)
	}
	if it.Headers.Get("X-User-Role") != "manager" {
		t.Errorf("headers not captured: %+v", it.Headers)
	}

	var queued *QueuedError
	if !errors.As(err, &queued) || queued.Item.ID != it.ID {
		t.Errorf("QueuedError should carry item %s, got %v", it.ID, err)
	}
}

func TestClient_FirstAttemptCarriesIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	resp, err := f.post(t, "/api/contracts", `{}`)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	live, _ := f.lastKey.Load().(string)
	if live == "" {
		t.Fatal("live POST was sent without an Idempotency-Key")
	}

	f.network.down.Store(true)
	if _, err := f.post(t, "/api/contracts", `{}`); !errors.Is(err, ErrQueued) {
		t.Fatalf("expected ErrQueued, got %v", err)
	}
	items, _ := f.store.GetQueue(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected one queued item, got %d", len(items))
	}
	queuedKey := items[0].Headers.Get(syncer.IdempotencyHeader)
	if queuedKey == "" || queuedKey == live {
		t.Errorf("queued item key = %q, want a fresh key distinct from %q", queuedKey, live)
	}
}

func TestClient_KeepsCallerIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.network.down.Store(true)

	req, _ := http.NewRequest(http.MethodPut, f.server.URL+"/api/contracts", strings.NewReader(`{"id":1}`))
	req.Header.Set(syncer.IdempotencyHeader, "caller-key")
	if _, err := f.client.Do(req); !errors.Is(err, ErrQueued) {
		t.Fatalf("expected ErrQueued, got %v", err)
	}
	items, _ := f.store.GetQueue(context.Background())
	if len(items) != 1 || items[0].Headers.Get(syncer.IdempotencyHeader) != "caller-key" {
		t.Errorf("caller key not preserved: %+v", items)
	}
}

func TestClient_ServerErrorIsNotQueued(t *testing.T) {
	f := newFixture(t)

	resp, err := f.post(t, "/api/unavailable", `{}`)
	if err != nil {
		t.Fatalf("a real 503 should be returned, got %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "maintenance") {
		t.Errorf("unexpected response %d %s", resp.StatusCode, body)
	}
	if n, _ := f.store.GetQueueLength(context.Background()); n != 0 {
		t.Errorf("expected nothing queued, got %d", n)
	}
}

func TestClient_StorageFailureLosesMutation(t *testing.T) {
	f := newFixture(t)
	f.network.down.Store(true)
	f.backend.SetErr(errors.New("quota exceeded"))

	_, err := f.post(t, "/api/contracts", `{}`)
	if !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if errors.Is(err, ErrQueued) {
		t.Error("lost mutation must not report as queued")
	}
	if f.alerts != 1 {
		t.Errorf("expected one desktop alert, got %d", f.alerts)
	}

	select {
	case msg := <-f.published:
		if msg.Type != bus.TypeMutationLost {
			t.Errorf("expected mutation-lost, got %s", msg.Type)
		}
	default:
		t.Error("expected a mutation-lost message")
	}
}

func TestClient_GetIsNeverQueued(t *testing.T) {
	f := newFixture(t)
	f.network.down.Store(true)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/contracts", nil)
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected offline 503, got %d", resp.StatusCode)
	}
	if n, _ := f.store.GetQueueLength(context.Background()); n != 0 {
		t.Errorf("GET was queued")
	}
}

func TestProxyHandler_QueuedIs202(t *testing.T) {
	f := newFixture(t)
	f.network.down.Store(true)
	handler := f.client.ProxyHandler(f.server.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/contracts?id=4", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["queued"] != true || out["id"] == "" {
		t.Errorf("unexpected body %v", out)
	}

	items, _ := f.store.GetQueue(context.Background())
	if len(items) != 1 || items[0].URL != f.server.URL+"/api/contracts?id=4" {
		t.Errorf("unexpected queue %+v", items)
	}
}

func TestProxyHandler_ForwardsOnline(t *testing.T) {
	f := newFixture(t)
	handler := f.client.ProxyHandler(f.server.URL + "/")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contracts", strings.NewReader(`{}`)))

	if rec.Code != http.StatusCreated || rec.Body.String() != `{"id":1}` {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
