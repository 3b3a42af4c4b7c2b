// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"bytes"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/contracts-hub/internal/database"
)

// Idempotency headers
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// IdempotencyMiddleware answers a POST whose Idempotency-Key was seen before
// with the stored response instead of running the handler again. Responses
// with a 5xx status are not stored, so the request can be retried.
func IdempotencyMiddleware(store *database.IdempotencyStore) func(http.Handler) http.Handler {
	// Keyed POSTs are serialized so two deliveries of one key cannot both
	// miss the lookup.
	var mu sync.Mutex

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			mu.Lock()
			defer mu.Unlock()

			stored, found, err := store.Lookup(key)
			if err != nil {
				log.Printf("Idempotency lookup failed for %s: %v", key, err)
			}
			if found {
				log.Printf("Idempotency: replaying stored response for key %s", key)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 500 {
				return
			}
			resp := database.StoredResponse{Status: rec.status, Body: rec.body.Bytes()}
			if err := store.Save(key, r.Method, r.URL.Path, resp); err != nil {
				log.Printf("Idempotency save failed for %s: %v", key, err)
			}
		})
	}
}

// recordingWriter passes the response through while keeping a copy
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
