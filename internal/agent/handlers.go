// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package agent

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/metrics"
	"github.com/contracts-hub/internal/offline/scheduler"
	"github.com/contracts-hub/internal/server/middleware"
)

// Status is the body of GET /agent/status
type Status struct {
	Server      string           `json:"server"`
	Upstream    string           `json:"upstream"`
	Scheduler   scheduler.Status `json:"scheduler"`
	QueueLength int              `json:"queueLength"`
	PendingTags []string         `json:"pendingTags"`
	Caches      []string         `json:"caches"`
	Inbox       []string         `json:"inbox"`
}

// Address returns the listen address
func (a *Agent) Address() string {
	return fmt.Sprintf(":%d", a.cfg.ListenPort)
}

// Handler returns the agent's HTTP handler. Pages and API calls go through
// the interception layer; /agent/ endpoints control the offline stack.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/agent/queue", a.handleQueue)
	mux.HandleFunc("/agent/sync", a.handleSync)
	mux.HandleFunc("/agent/status", a.handleStatus)
	mux.HandleFunc("/agent/ws", a.hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/api/", a.client.ProxyHandler(a.cfg.Server.Address))
	mux.Handle("/", a.interceptor)

	return middleware.TrafficLogger(mux)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleQueue lists (GET) or clears (DELETE) the pending mutations
func (a *Agent) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.store.GetQueue(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": items,
			"count": len(items),
		})

	case http.MethodDelete:
		if err := a.store.ClearQueue(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		metrics.QueueLength.Set(0)
		logger.Printf("Agent: queue cleared by request")
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleSync requests an immediate sync pass
func (a *Agent) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	a.scheduler.RequestSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
}

// handleStatus reports connectivity, queue and cache state
func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	st := Status{
		Server:      a.monitor.GetStatus(),
		Upstream:    a.cfg.Server.Address,
		Scheduler:   a.scheduler.Status(),
		PendingTags: a.deferred.Pending(),
		Caches:      []string{},
		Inbox:       []string{},
	}
	if n, err := a.store.GetQueueLength(r.Context()); err == nil {
		st.QueueLength = n
	}
	if names, err := a.cache.Keys(r.Context()); err == nil {
		st.Caches = names
	}
	if a.inbox != nil {
		st.Inbox = a.inbox.WatchedPaths()
	}

	writeJSON(w, http.StatusOK, st)
}
