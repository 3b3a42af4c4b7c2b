// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/contracts-hub/internal/config"
	"github.com/contracts-hub/internal/heartbeat"
	"github.com/contracts-hub/internal/inbox"
	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/client"
	"github.com/contracts-hub/internal/offline/connectivity"
	"github.com/contracts-hub/internal/offline/feed"
	"github.com/contracts-hub/internal/offline/interceptor"
	"github.com/contracts-hub/internal/offline/queue"
	"github.com/contracts-hub/internal/offline/scheduler"
	"github.com/contracts-hub/internal/offline/syncer"
	"github.com/contracts-hub/internal/server"
)

// ErrAlreadyRunning means another agent holds the data directory lock
var ErrAlreadyRunning = errors.New("another agent is already running on this data directory")

// Options overrides the agent's outside world, mainly for tests
type Options struct {
	// Transport reaches the contracts server (default http.DefaultTransport).
	Transport http.RoundTripper
	// Alert raises desktop notifications (default beeep).
	Alert func(title, message string) error
}

// Agent wires the offline stack around the contracts server: durable queue,
// sync engine, scheduler, interception layer, heartbeat, change feed and
// import inbox
type Agent struct {
	cfg *config.AgentConfig

	lock        *flock.Flock
	bus         *bus.Bus
	state       *connectivity.State
	store       *queue.Store
	engine      *syncer.Engine
	scheduler   *scheduler.Scheduler
	deferred    *scheduler.DeferredSync
	cache       *interceptor.SQLiteCacheStorage
	interceptor *interceptor.Interceptor
	client      *client.Client
	monitor     *heartbeat.Monitor
	inbox       *inbox.Manager
	feed        *feed.Feed
	hub         *server.WebSocketManager

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// New builds an agent from cfg. It takes the data directory lock; call
// Stop to release it.
func New(cfg *config.AgentConfig, opts Options) (_ *Agent, err error) {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a := &Agent{cfg: cfg, bus: bus.New()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.lock = flock.New(filepath.Join(cfg.DataDir, "agent.lock"))
	locked, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		a.lock = nil
		return nil, ErrAlreadyRunning
	}

	backend, err := a.openBackend()
	if err != nil {
		return nil, err
	}
	a.store = queue.NewStore(backend)

	policy, err := syncer.ParsePolicy(cfg.Sync.Policy)
	if err != nil {
		return nil, err
	}

	// Connectivity stays "offline" until the first heartbeat answers.
	a.state = connectivity.NewState(false)
	a.engine = syncer.NewEngine(a.store, a.state, syncer.Options{
		Client: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		Policy: policy,
		Bus:    a.bus,
	})

	a.deferred = scheduler.NewDeferredSync(func(tag string) {
		a.scheduler.NotifyTagFired(tag)
	}, false)
	a.scheduler = scheduler.New(a.engine, a.state, scheduler.Options{
		Background: a.deferred,
		Bus:        a.bus,
	})
	a.store.SetNotifier(a.scheduler)

	a.cache, err = interceptor.NewSQLiteCacheStorage(filepath.Join(cfg.DataDir, "cache.db"))
	if err != nil {
		return nil, err
	}
	a.interceptor, err = interceptor.New(interceptor.Options{
		Upstream:     cfg.Server.Address,
		Transport:    transport,
		Storage:      a.cache,
		Prefix:       cfg.Cache.Prefix,
		Version:      cfg.Cache.Version,
		StaticAssets: cfg.Cache.StaticAssets,
		Bus:          a.bus,
	})
	if err != nil {
		return nil, err
	}

	a.client = client.New(a.interceptor, a.store, client.Options{Bus: a.bus, Alert: opts.Alert})

	a.monitor = heartbeat.NewMonitor(cfg.Server.Address, heartbeat.Options{
		Interval:         cfg.Heartbeat.Interval,
		FailureThreshold: cfg.Heartbeat.FailureThreshold,
		Client:           &http.Client{Transport: transport, Timeout: 5 * time.Second},
		Alert:            opts.Alert,
	}, a.onServerStatus)

	if len(cfg.Inbox.Paths) > 0 {
		a.inbox, err = inbox.NewManager(a.client, inbox.Options{
			Paths:    cfg.Inbox.Paths,
			Endpoint: strings.TrimSuffix(cfg.Server.Address, "/") + "/api/contracts",
			UserID:   cfg.User.ID,
			UserRole: cfg.User.Role,
			DataDir:  cfg.DataDir,
			Bus:      a.bus,
		})
		if err != nil {
			return nil, err
		}
	}

	a.feed, err = feed.New(cfg.Server.Address, feed.Options{ClientID: agentID()}, a.onNotification)
	if err != nil {
		return nil, err
	}

	a.hub = server.NewWebSocketManager(nil)
	return a, nil
}

func agentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "agent"
	}
	return "agent-" + host
}

// onNotification refreshes the cached contract list when another client
// changed contracts on the server
func (a *Agent) onNotification(n feed.Notification) {
	if n.Type != server.EventContractChanged {
		return
	}
	a.bus.Publish(bus.Message{Type: bus.TypeRemoteChange, Message: n.Message})
	if err := a.refreshContracts(context.Background()); err != nil {
		logger.Warnf("Agent: failed to refresh contracts after %s: %v", n.Message, err)
	}
}

// refreshContracts re-reads the contract list through the interception
// layer so the API cache holds the server's latest copy. It needs the
// configured user identity.
func (a *Agent) refreshContracts(ctx context.Context) error {
	if a.cfg.User.ID == "" {
		return nil
	}
	url := strings.TrimSuffix(a.cfg.Server.Address, "/") + "/api/contracts"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(server.HeaderUserID, a.cfg.User.ID)
	req.Header.Set(server.HeaderUserRole, a.cfg.User.Role)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) openBackend() (queue.Backend, error) {
	switch a.cfg.Queue.Backend {
	case "redis":
		client, err := config.NewRedisClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis queue: %w", err)
		}
		logger.Printf("Agent: queue backend redis key=%s", a.cfg.Queue.RedisKey)
		return queue.NewRedisBackend(client, a.cfg.Queue.RedisKey), nil
	default:
		path := filepath.Join(a.cfg.DataDir, "queue.db")
		logger.Printf("Agent: queue backend sqlite %s", path)
		return queue.NewSQLiteBackend(path), nil
	}
}

// onServerStatus feeds heartbeat results into the scheduler and the
// deferred background sync
func (a *Agent) onServerStatus(status string) {
	online := status == heartbeat.StatusUp
	a.scheduler.NotifyConnectivityChanged(online)
	a.deferred.SetOnline(online)
}

// Start runs the scheduler and the change feed, installs the caches,
// starts the heartbeat and the inbox, and triggers the catch-up sync
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.feed.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.forwardEvents(ctx)
	}()

	// A failed install keeps the caches from the previous run.
	if err := a.interceptor.Install(ctx); err != nil {
		logger.Warnf("Agent: cache install failed, keeping existing caches: %v", err)
	} else if err := a.interceptor.Activate(ctx); err != nil {
		logger.Warnf("Agent: cache activation failed: %v", err)
	}

	a.monitor.Start()

	if a.inbox != nil {
		if err := a.inbox.Start(); err != nil {
			return fmt.Errorf("failed to start inbox: %w", err)
		}
	}

	a.scheduler.NotifyPageLoad()
	return nil
}

// forwardEvents relays bus messages and log lines to /agent/ws clients
func (a *Agent) forwardEvents(ctx context.Context) {
	events := a.bus.Subscribe(64)
	defer a.bus.Unsubscribe(events)

	logLines := logger.GetDefault().Subscribe()
	defer logger.GetDefault().Unsubscribe(logLines)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			a.hub.Broadcast(msg.Type, msg.Message, msg)
		case line, ok := <-logLines:
			if !ok {
				logLines = nil
				continue
			}
			a.hub.Broadcast("log", line, nil)
		}
	}
}

// SetLogLevel applies a reloaded log level
func (a *Agent) SetLogLevel(level string) {
	logger.GetDefault().SetLevel(logger.ParseLevel(level))
}

// SetHeartbeatInterval applies a reloaded heartbeat interval
func (a *Agent) SetHeartbeatInterval(d time.Duration) {
	a.monitor.SetInterval(d)
}

// Stop shuts every component down and releases the data directory lock
func (a *Agent) Stop() {
	a.stopped.Do(func() {
		if a.monitor != nil {
			a.monitor.Stop()
		}
		if a.inbox != nil {
			a.inbox.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		if a.hub != nil {
			a.hub.Stop()
		}
		a.closeResources()
	})
}

func (a *Agent) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("Agent: error closing queue: %v", err)
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.lock != nil {
		a.lock.Unlock()
	}
}
