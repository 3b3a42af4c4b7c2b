// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/metrics"
	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/queue"
)

// IdempotencyHeader carries the queue item id on every replay so the server
// can drop duplicates.
const IdempotencyHeader = "Idempotency-Key"

// Connectivity reports whether the network is believed reachable
type Connectivity interface {
	Online() bool
}

// Policy decides which replay outcomes count as delivered
type Policy int

const (
	// PolicyAccepted evicts an item only on a 2xx response
	PolicyAccepted Policy = iota
	// PolicyCompleted evicts an item on any response, whatever the status
	PolicyCompleted
)

// ParsePolicy maps "accepted" and "completed" to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "accepted":
		return PolicyAccepted, nil
	case "completed":
		return PolicyCompleted, nil
	default:
		return PolicyAccepted, fmt.Errorf("unknown sync policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicyCompleted {
		return "completed"
	}
	return "accepted"
}

// Report summarises one SyncNow pass
type Report struct {
	Skipped   bool `json:"skipped"` // offline, queue untouched
	Attempted int  `json:"attempted"`
	Replayed  int  `json:"replayed"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
}

// Engine replays queued mutations against the network
type Engine struct {
	store  *queue.Store
	conn   Connectivity
	client *http.Client
	policy Policy
	bus    *bus.Bus
}

// Options configures an Engine
type Options struct {
	Client *http.Client // defaults to a client with a 30s timeout
	Policy Policy
	Bus    *bus.Bus
}

// NewEngine creates a sync engine over store
func NewEngine(store *queue.Store, conn Connectivity, opts Options) *Engine {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Engine{
		store:  store,
		conn:   conn,
		client: client,
		policy: opts.Policy,
		bus:    opts.Bus,
	}
}

// SyncNow replays every currently queued item in enqueue order.
//
// When offline it returns at once without reading the queue. Otherwise it
// reads one snapshot and replays each item, removing it only after the
// replay succeeded under the engine's policy. A failed item is logged and
// kept; the pass continues with the next one. The only error returned is a
// failure to read the snapshot.
//
// SyncNow is not guarded against concurrent calls: overlapping passes can
// replay the same item twice.
func (e *Engine) SyncNow(ctx context.Context) (Report, error) {
	if !e.conn.Online() {
		logger.Debugf("SyncNow: offline, skipping")
		return Report{Skipped: true}, nil
	}

	items, err := e.store.GetQueue(ctx)
	if err != nil {
		logger.Errorf("SyncNow: failed to read queue: %v", err)
		return Report{}, err
	}

	var report Report
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++

		if err := e.replay(ctx, item); err != nil {
			report.Failed++
			metrics.ReplaysTotal.WithLabelValues("failed").Inc()
			logger.Warnf("SyncNow: failed to sync item id=%s %s %s: %v", item.ID, item.Method, item.URL, err)
			e.bus.Publish(bus.Message{
				Type:    bus.TypeReplayFailed,
				Message: "replay failed, item kept",
				ItemID:  item.ID,
				URL:     item.URL,
				Error:   err.Error(),
			})
			continue
		}

		if err := e.store.RemoveFromQueue(ctx, item.ID); err != nil {
			// Delivered but still queued; it will be sent again next pass.
			logger.Errorf("SyncNow: replayed id=%s but failed to remove it: %v", item.ID, err)
		}
		report.Replayed++
		metrics.ReplaysTotal.WithLabelValues("replayed").Inc()
		logger.Printf("SyncNow: replayed id=%s %s %s", item.ID, item.Method, item.URL)
	}

	if n, err := e.store.GetQueueLength(ctx); err == nil {
		report.Remaining = n
		metrics.QueueLength.Set(float64(n))
	}

	if report.Replayed > 0 {
		e.bus.Publish(bus.Message{
			Type:    bus.TypeSynced,
			Message: fmt.Sprintf("%d queued change(s) synced", report.Replayed),
			Count:   report.Replayed,
		})
	}

	return report, nil
}

func (e *Engine) replay(ctx context.Context, item queue.Item) error {
	var body io.Reader
	if item.Body != "" {
		body = strings.NewReader(item.Body)
	}

	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	item.Headers.Apply(req.Header)
	if req.Header.Get(IdempotencyHeader) == "" {
		req.Header.Set(IdempotencyHeader, item.ID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if e.policy == PolicyAccepted && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fmt.Errorf("server responded %d", resp.StatusCode)
	}
	return nil
}
