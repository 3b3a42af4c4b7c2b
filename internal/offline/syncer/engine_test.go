// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package syncer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/connectivity"
	"github.com/contracts-hub/internal/offline/queue"
)

// fakeTransport records every request and fails those whose body is listed
// in failBodies, as a dropped connection would.
type fakeTransport struct {
	mu         sync.Mutex
	calls      []string
	headers    []http.Header
	failBodies map[string]bool
	status     int
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+body)
	f.headers = append(f.headers, req.Header.Clone())
	fail := f.failBodies[body]
	status := f.status
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset by peer")
	}
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(`{}`)),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestEngine(t *testing.T, transport *fakeTransport, online bool, policy Policy) (*Engine, *queue.Store, *connectivity.State) {
	t.Helper()
	store := queue.NewStore(queue.NewMemoryBackend())
	state := connectivity.NewState(online)
	engine := NewEngine(store, state, Options{
		Client: &http.Client{Transport: transport},
		Policy: policy,
		Bus:    bus.New(),
	})
	return engine, store, state
}

func enqueue(t *testing.T, store *queue.Store, bodies ...string) []queue.Item {
	t.Helper()
	var items []queue.Item
	headers := queue.Headers{{Name: "Content-Type", Value: "application/json"}, {Name: "X-User-Role", Value: "manager"}}
	for _, b := range bodies {
		it, err := store.AddToQueue(context.Background(), "http://server.test/api/contracts", http.MethodPost, headers, b)
		if err != nil {
			t.Fatalf("AddToQueue failed: %v", err)
		}
		items = append(items, it)
	}
	return items
}

func TestSyncNow_ReplaysInEnqueueOrder(t *testing.T) {
	transport := &fakeTransport{}
	engine, store, _ := newTestEngine(t, transport, true, PolicyAccepted)
	enqueue(t, store, "A", "B", "C")

	report, err := engine.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	want := []string{"POST A", "POST B", "POST C"}
	if got := transport.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("replay order = %v, want %v", got, want)
	}
	if report.Replayed != 3 || report.Failed != 0 || report.Remaining != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestSyncNow_PartialFailureKeepsOnlyFailedItem(t *testing.T) {
	transport := &fakeTransport{failBodies: map[string]bool{"m2": true}}
	engine, store, _ := newTestEngine(t, transport, true, PolicyAccepted)
	items := enqueue(t, store, "m1", "m2", "m3")

	if n, _ := store.GetQueueLength(context.Background()); n != 3 {
		t.Fatalf("expected 3 queued items, got %d", n)
	}

	report, err := engine.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if report.Attempted != 3 || report.Replayed != 2 || report.Failed != 1 || report.Remaining != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	left, _ := store.GetQueue(context.Background())
	if len(left) != 1 {
		t.Fatalf("expected exactly one item left, got %d", len(left))
	}
	if !reflect.DeepEqual(left[0], items[1]) {
		t.Errorf("remaining item changed:\n got %+v\nwant %+v", left[0], items[1])
	}
}

func TestSyncNow_EventuallyDeliversEverything(t *testing.T) {
	transport := &fakeTransport{failBodies: map[string]bool{"x": true}}
	engine, store, _ := newTestEngine(t, transport, true, PolicyAccepted)
	enqueue(t, store, "x", "y")

	engine.SyncNow(context.Background())
	if n, _ := store.GetQueueLength(context.Background()); n != 1 {
		t.Fatalf("expected failed item to stay queued, got %d", n)
	}

	transport.mu.Lock()
	transport.failBodies = nil
	transport.mu.Unlock()

	engine.SyncNow(context.Background())
	if n, _ := store.GetQueueLength(context.Background()); n != 0 {
		t.Fatalf("expected queue to drain, got %d", n)
	}

	delivered := 0
	for _, c := range transport.Calls() {
		if c == "POST x" {
			delivered++
		}
	}
	if delivered != 2 {
		t.Errorf("expected x to be attempted twice (one failure, one success), got %d", delivered)
	}
}

func TestSyncNow_OfflineIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	engine, store, _ := newTestEngine(t, transport, false, PolicyAccepted)
	before := enqueue(t, store, "a", "b")

	report, err := engine.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if !report.Skipped {
		t.Error("expected report to be marked skipped")
	}
	if len(transport.Calls()) != 0 {
		t.Fatalf("expected zero network calls, got %v", transport.Calls())
	}

	after, _ := store.GetQueue(context.Background())
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("queue changed while offline:\n before %+v\n after %+v", before, after)
	}
}

func TestSyncNow_PolicyDecidesNon2xx(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		status   int
		wantLeft int
	}{
		{"accepted keeps 409", PolicyAccepted, http.StatusConflict, 1},
		{"accepted keeps 503", PolicyAccepted, http.StatusServiceUnavailable, 1},
		{"accepted evicts 201", PolicyAccepted, http.StatusCreated, 0},
		{"completed evicts 409", PolicyCompleted, http.StatusConflict, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{status: tt.status}
			engine, store, _ := newTestEngine(t, transport, true, tt.policy)
			enqueue(t, store, "body")

			engine.SyncNow(context.Background())

			if n, _ := store.GetQueueLength(context.Background()); n != tt.wantLeft {
				t.Errorf("expected %d item(s) left, got %d", tt.wantLeft, n)
			}
		})
	}
}

func TestSyncNow_SendsCapturedHeadersAndIdempotencyKey(t *testing.T) {
	transport := &fakeTransport{}
	engine, store, _ := newTestEngine(t, transport, true, PolicyAccepted)
	items := enqueue(t, store, "h")

	engine.SyncNow(context.Background())

	if len(transport.headers) != 1 {
		t.Fatalf("expected one replay, got %d", len(transport.headers))
	}
	h := transport.headers[0]
	if h.Get("X-User-Role") != "manager" || h.Get("Content-Type") != "application/json" {
		t.Errorf("captured headers not replayed: %v", h)
	}
	if h.Get(IdempotencyHeader) != items[0].ID {
		t.Errorf("Idempotency-Key = %q, want %q", h.Get(IdempotencyHeader), items[0].ID)
	}
}

func TestSyncNow_StorageFailureIsReturned(t *testing.T) {
	backend := queue.NewMemoryBackend()
	store := queue.NewStore(backend)
	engine := NewEngine(store, connectivity.NewState(true), Options{Client: &http.Client{Transport: &fakeTransport{}}})

	backend.SetErr(errors.New("disk I/O error"))
	if _, err := engine.SyncNow(context.Background()); !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestSyncNow_AgainstHTTPServer(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := queue.NewStore(queue.NewMemoryBackend())
	engine := NewEngine(store, connectivity.NewState(true), Options{})

	ctx := context.Background()
	store.AddToQueue(ctx, srv.URL+"/api/contracts", http.MethodPost, nil, `{"organizationName":"A"}`)
	store.AddToQueue(ctx, srv.URL+"/api/contracts?id=7", http.MethodDelete, nil, "")

	report, err := engine.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if report.Replayed != 2 {
		t.Fatalf("expected 2 replays, got %+v", report)
	}
	want := []string{"POST /api/contracts", "DELETE /api/contracts?id=7"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("server saw %v, want %v", paths, want)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("completed"); err != nil || p != PolicyCompleted {
		t.Errorf("ParsePolicy(completed) = %v, %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyAccepted {
		t.Errorf("ParsePolicy('') = %v, %v", p, err)
	}
	if _, err := ParsePolicy("never"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
