// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contracts-hub/internal/database"
	"github.com/contracts-hub/internal/server/middleware"
)

// Options configures the API routes
type Options struct {
	Stores    *database.Stores
	Hub       *WebSocketManager // optional
	StaticDir string
}

// Routes builds the contracts API handler
func Routes(opts Options) http.Handler {
	stores := opts.Stores

	var notifier Notifier
	if opts.Hub != nil {
		notifier = opts.Hub
	}
	api := NewContractsAPI(stores, notifier)

	authed := AuthMiddleware(stores.Users)
	idem := IdempotencyMiddleware(stores.Idempotency)
	protect := func(h http.HandlerFunc) http.Handler {
		return authed(idem(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		HandleHealth(w, r, stores.Metadata)
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		HandleLogin(w, r, stores.Users)
	})

	mux.Handle("/api/contracts", protect(api.HandleContracts))
	mux.Handle("/api/contracts/stats", protect(api.HandleStats))
	mux.Handle("/api/contracts/export", protect(api.HandleExport))
	mux.Handle("/api/contracts/import", protect(api.HandleImport))
	mux.Handle("/api/audit-logs", protect(api.HandleAuditLogs))

	mux.Handle("/api/users", protect(func(w http.ResponseWriter, r *http.Request) {
		HandleUsers(w, r, stores.Users)
	}))
	mux.Handle("/api/users/", protect(func(w http.ResponseWriter, r *http.Request) {
		HandleUser(w, r, stores.Users)
	}))

	if opts.Hub != nil {
		mux.HandleFunc("/api/v1/ws", opts.Hub.HandleWebSocket)
	}

	mux.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	mux.Handle("/", StaticHandler(opts.StaticDir))

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderUserRole, HeaderUserID, HeaderIdempotencyKey, SourceHeader},
		ExposedHeaders: []string{"Content-Disposition", HeaderReplayed},
		MaxAge:         300,
	})

	return middleware.TrafficLogger(corsHandler(mux))
}
