// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package scheduler

import (
	"context"
	"sync"

	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/metrics"
	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/connectivity"
	"github.com/contracts-hub/internal/offline/queue"
	"github.com/contracts-hub/internal/offline/syncer"
)

// SyncTag is the background sync tag registered for queued mutations
const SyncTag = "sync-contracts"

// Syncer runs one sync pass
type Syncer interface {
	SyncNow(ctx context.Context) (syncer.Report, error)
}

// BackgroundSync defers a tagged sync until the platform decides to run it
type BackgroundSync interface {
	Register(tag string) error
}

type triggerKind int

const (
	triggerConnectivity triggerKind = iota
	triggerTag
	triggerPageLoad
	triggerEnqueue
)

func (k triggerKind) String() string {
	switch k {
	case triggerConnectivity:
		return "online"
	case triggerTag:
		return "tag"
	case triggerPageLoad:
		return "page_load"
	default:
		return "enqueue"
	}
}

type trigger struct {
	kind   triggerKind
	online bool
	tag    string
}

// Scheduler decides when the sync engine runs. Triggers arrive through the
// Notify* entry points and are handled one at a time by Run.
type Scheduler struct {
	syncer   Syncer
	state    *connectivity.State
	registry BackgroundSync
	bus      *bus.Bus
	triggers chan trigger
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	lastRun syncer.Report
	lastErr error
	runs    int
}

// Options configures a Scheduler
type Options struct {
	// Background is optional; without it every enqueue syncs immediately.
	Background BackgroundSync
	Bus        *bus.Bus
	// Buffer is the trigger channel capacity (default 64).
	Buffer int
}

// New creates a scheduler. state is written by NotifyConnectivityChanged
// and should be the same State the sync engine reads.
func New(s Syncer, state *connectivity.State, opts Options) *Scheduler {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Scheduler{
		syncer:   s,
		state:    state,
		registry: opts.Background,
		bus:      opts.Bus,
		triggers: make(chan trigger, buffer),
		stopped:  make(chan struct{}),
	}
}

// Run processes triggers until ctx is cancelled. Triggers sent after Run
// returns are dropped.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Printf("Scheduler: started")
	for {
		select {
		case <-ctx.Done():
			s.stopOnce.Do(func() { close(s.stopped) })
			logger.Printf("Scheduler: stopped")
			return
		case t := <-s.triggers:
			s.handle(ctx, t)
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, t trigger) {
	switch t.kind {
	case triggerConnectivity:
		changed := s.state.Set(t.online)
		online := t.online
		s.bus.Publish(bus.Message{Type: bus.TypeConnectivity, Online: &online, Message: connectivityMessage(online)})
		if !changed || !online {
			return
		}
		logger.Printf("Scheduler: back online, syncing")
	case triggerTag:
		if t.tag != SyncTag {
			logger.Debugf("Scheduler: ignoring unknown tag %q", t.tag)
			return
		}
	}

	s.runSync(ctx, t.kind)
}

func (s *Scheduler) runSync(ctx context.Context, kind triggerKind) {
	metrics.SyncRunsTotal.WithLabelValues(kind.String()).Inc()

	report, err := s.syncer.SyncNow(ctx)

	s.mu.Lock()
	s.lastRun = report
	s.lastErr = err
	s.runs++
	s.mu.Unlock()

	if err != nil {
		logger.Errorf("Scheduler: sync after %s failed: %v", kind, err)
		return
	}
	if !report.Skipped && report.Attempted > 0 {
		logger.Printf("Scheduler: sync after %s replayed=%d failed=%d remaining=%d",
			kind, report.Replayed, report.Failed, report.Remaining)
	}
}

// send queues a trigger. Connectivity changes always get through; a sync
// request is dropped when the channel is full, since a pending trigger will
// drain the whole queue anyway.
func (s *Scheduler) send(t trigger) {
	if t.kind == triggerConnectivity {
		select {
		case s.triggers <- t:
		case <-s.stopped:
			logger.Debugf("Scheduler: stopped, dropping connectivity change")
		}
		return
	}
	select {
	case s.triggers <- t:
	default:
		logger.Debugf("Scheduler: trigger %s coalesced", t.kind)
	}
}

// NotifyConnectivityChanged records the new connectivity; an offline to
// online transition triggers a sync.
func (s *Scheduler) NotifyConnectivityChanged(online bool) {
	s.send(trigger{kind: triggerConnectivity, online: online})
}

// NotifyTagFired triggers a sync when tag is SyncTag
func (s *Scheduler) NotifyTagFired(tag string) {
	s.send(trigger{kind: triggerTag, tag: tag})
}

// NotifyPageLoad triggers the start-up catch-up sync
func (s *Scheduler) NotifyPageLoad() {
	s.send(trigger{kind: triggerPageLoad})
}

// RequestSync triggers a sync at once (manual "sync now")
func (s *Scheduler) RequestSync() {
	s.bus.Publish(bus.Message{Type: bus.TypeSyncRequested, Message: "manual sync requested"})
	s.send(trigger{kind: triggerPageLoad})
}

// Queued implements queue.Notifier. It registers the background sync tag,
// falling back to an immediate sync when no registrar is available or
// registration fails.
func (s *Scheduler) Queued(item queue.Item) {
	s.bus.Publish(bus.Message{Type: bus.TypeQueued, Message: "change queued for sync", ItemID: item.ID, URL: item.URL})

	if s.registry != nil {
		err := s.registry.Register(SyncTag)
		if err == nil {
			return
		}
		logger.Printf("Background sync not available (%v), syncing now", err)
	}
	s.send(trigger{kind: triggerEnqueue})
}

// Online implements syncer.Connectivity
func (s *Scheduler) Online() bool {
	return s.state.Online()
}

// Status is a snapshot of the scheduler for status endpoints
type Status struct {
	Online  bool          `json:"online"`
	Runs    int           `json:"runs"`
	LastRun syncer.Report `json:"lastRun"`
	LastErr string        `json:"lastError,omitempty"`
}

// Status returns the current scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Online: s.state.Online(), Runs: s.runs, LastRun: s.lastRun}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}

func connectivityMessage(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
