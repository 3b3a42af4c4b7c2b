// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/contracts-hub/internal/logger"
)

const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
)

// Options configures a Monitor
type Options struct {
	Interval         time.Duration // default 10s
	FailureThreshold int           // consecutive failures before "down", default 3
	Client           *http.Client
	// Alert raises a desktop notification; defaults to beeep.Alert.
	Alert func(title, message string) error
}

// Monitor probes the contracts server health endpoint and reports when it
// becomes reachable or unreachable
type Monitor struct {
	serverURL      string
	interval       time.Duration
	threshold      int
	client         *http.Client
	alert          func(title, message string) error
	status         string
	failureCount   int
	mu             sync.RWMutex
	statusCallback func(status string)
	intervalChan   chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	startOnce      sync.Once
	stopOnce       sync.Once
}

// NewMonitor creates a new heartbeat monitor
func NewMonitor(serverURL string, opts Options, statusCallback func(status string)) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Alert == nil {
		opts.Alert = func(title, message string) error {
			return beeep.Alert(title, message, "")
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		serverURL:      serverURL,
		interval:       opts.Interval,
		threshold:      opts.FailureThreshold,
		client:         opts.Client,
		alert:          opts.Alert,
		status:         StatusUnknown,
		statusCallback: statusCallback,
		intervalChan:   make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Start checks once right away, then on every interval
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.monitorLoop()
		logger.Printf("Heartbeat monitor started for server: %s (every %s)", m.serverURL, m.Interval())
	})
}

// Stop aborts a probe in flight and returns once the monitor loop has
// exited; no status callback runs after Stop returns.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
		logger.Printf("Heartbeat monitor stopped")
	})
}

// SetInterval changes the probe interval of a running monitor
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	changed := m.interval != d
	m.interval = d
	m.mu.Unlock()
	if !changed {
		return
	}
	select {
	case m.intervalChan <- struct{}{}:
	default:
	}
}

// Interval returns the current probe interval
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// GetStatus returns the current server status
func (m *Monitor) GetStatus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) monitorLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	m.CheckHealth()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.intervalChan:
			d := m.Interval()
			ticker.Reset(d)
			logger.Printf("Heartbeat interval set to %s", d)
		case <-ticker.C:
			m.CheckHealth()
		}
	}
}

// CheckHealth pings the server health endpoint once
func (m *Monitor) CheckHealth() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.serverURL+"/health", nil)
	if err != nil {
		logger.Errorf("Heartbeat: Failed to create request: %v", err)
		m.handleFailure()
		return
	}

	resp, err := m.client.Do(req)
	if m.ctx.Err() != nil {
		// Stopped mid-probe
		if err == nil {
			resp.Body.Close()
		}
		return
	}
	if err != nil {
		m.handleFailure()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.handleFailure()
		return
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Status != "ok" {
		m.handleFailure()
		return
	}
	m.handleSuccess()
}

func (m *Monitor) handleSuccess() {
	m.mu.Lock()
	wasDown := m.status == StatusDown
	m.status = StatusUp
	m.failureCount = 0
	m.mu.Unlock()

	if wasDown {
		logger.Printf("Server is now reachable: %s", m.serverURL)
	}

	if m.statusCallback != nil {
		m.statusCallback(StatusUp)
	}
}

func (m *Monitor) handleFailure() {
	m.mu.Lock()
	m.failureCount++
	failureCount := m.failureCount
	wasDown := m.status == StatusDown
	if failureCount >= m.threshold {
		m.status = StatusDown
	}
	m.mu.Unlock()

	logger.Debugf("Server health check failed (attempt %d): %s", failureCount, m.serverURL)

	if failureCount < m.threshold {
		return
	}

	if !wasDown {
		logger.Warnf("Server Unreachable: %s (%d consecutive failures)", m.serverURL, failureCount)

		title := "Server Unreachable"
		message := fmt.Sprintf("The contracts server at %s is unreachable. Changes will be queued until it is back.", m.serverURL)
		if err := m.alert(title, message); err != nil {
			logger.Warnf("Failed to send OS notification: %v", err)
		}
	}

	if m.statusCallback != nil {
		m.statusCallback(StatusDown)
	}
}
