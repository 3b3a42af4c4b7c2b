// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/excel"
	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/client"
)

// SourceHeader marks contracts created by a workbook import
const SourceHeader = "X-Contract-Source"

// Doer sends a request; *client.Client queues mutations that cannot be sent
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Manager
type Options struct {
	Paths []string
	// Endpoint is the contracts collection URL imports are POSTed to.
	Endpoint string
	UserID   string
	UserRole string
	// DataDir holds the tracker database.
	DataDir  string
	Debounce time.Duration // default 500ms
	Bus      *bus.Bus
}

// FileResult is the outcome of importing one workbook
type FileResult struct {
	Path     string           `json:"path"`
	Skipped  bool             `json:"skipped"`
	Imported int              `json:"imported"`
	Queued   int              `json:"queued"`
	Failed   int              `json:"failed"`
	Invalid  []excel.RowError `json:"invalid,omitempty"`
}

// Status returns the tracker status for the result
func (r *FileResult) Status() string {
	switch {
	case r.Failed > 0 && r.Imported+r.Queued == 0:
		return StatusFailed
	case r.Failed > 0:
		return StatusPartial
	case r.Queued > 0:
		return StatusQueued
	default:
		return StatusImported
	}
}

// Manager watches inbox directories and imports every workbook dropped there
type Manager struct {
	opts      Options
	doer      Doer
	tracker   *Tracker
	debouncer *Debouncer
	watchers  map[string]*fsnotify.Watcher
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager creates a manager; call Start to begin watching
func NewManager(doer Doer, opts Options) (*Manager, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("inbox endpoint is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	tracker, err := NewTracker(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inbox tracker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:     opts,
		doer:     doer,
		tracker:  tracker,
		watchers: make(map[string]*fsnotify.Watcher),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.debouncer = NewDebouncer(opts.Debounce, m.processFile)
	return m, nil
}

// Start watches every configured path, importing workbooks already present
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, path := range m.opts.Paths {
		if err := m.addWatchPath(path); err != nil {
			logger.Errorf("Inbox: failed to watch %s: %v", path, err)
			continue
		}
	}

	for path, watcher := range m.watchers {
		m.wg.Add(1)
		go m.processEvents(path, watcher)
	}
	return nil
}

// Stop stops all watchers and closes the tracker
func (m *Manager) Stop() {
	m.cancel()
	m.debouncer.Stop()

	m.mu.Lock()
	for path, watcher := range m.watchers {
		if err := watcher.Close(); err != nil {
			logger.Warnf("Inbox: error closing watcher for %s: %v", path, err)
		}
		delete(m.watchers, path)
	}
	m.mu.Unlock()

	m.wg.Wait()
	if err := m.tracker.Close(); err != nil {
		logger.Warnf("Inbox: error closing tracker: %v", err)
	}
}

// WatchedPaths returns the directories currently watched
func (m *Manager) WatchedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.watchers))
	for path := range m.watchers {
		paths = append(paths, path)
	}
	return paths
}

func (m *Manager) addWatchPath(rootPath string) error {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, exists := m.watchers[absPath]; exists {
		return nil
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := filepath.Walk(absPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := watcher.Add(path); err != nil {
				logger.Warnf("Inbox: failed to watch %s: %v", path, err)
			}
		}
		return nil
	}); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	m.watchers[absPath] = watcher
	logger.Printf("Inbox: watching %s", absPath)

	go m.processExistingFiles(absPath)
	return nil
}

func (m *Manager) processEvents(path string, watcher *fsnotify.Watcher) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						logger.Warnf("Inbox: failed to watch new directory %s: %v", event.Name, err)
					}
					continue
				}
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if acceptFile(event.Name) {
					m.debouncer.Trigger(event.Name)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Errorf("Inbox: watcher error for %s: %v", path, err)
		}
	}
}

func (m *Manager) processExistingFiles(dir string) {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && acceptFile(path) {
			m.debouncer.Trigger(path)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("Inbox: error scanning %s: %v", dir, err)
	}
}

func acceptFile(path string) bool {
	return excel.IsWorkbook(path) && !excel.IsTemporaryFile(path)
}

func (m *Manager) processFile(path string) {
	result, err := m.ImportFile(m.ctx, path)
	if err != nil {
		logger.Errorf("Inbox: import of %s failed: %v", path, err)
		m.opts.Bus.Publish(bus.Message{Type: bus.TypeImported, Message: "import failed", URL: path, Error: err.Error()})
		return
	}
	if result.Skipped {
		return
	}
	m.opts.Bus.Publish(bus.Message{
		Type:    bus.TypeImported,
		Message: fmt.Sprintf("imported %d, queued %d, failed %d", result.Imported, result.Queued, result.Failed),
		URL:     path,
		Count:   result.Imported + result.Queued,
	})
}

// ImportFile parses one workbook and POSTs every valid contract. Contracts
// that come back queued count as queued; an unchanged workbook that was
// already imported is skipped.
func (m *Manager) ImportFile(ctx context.Context, path string) (*FileResult, error) {
	result := &FileResult{Path: path}

	decision, err := m.tracker.Decide(path)
	if err != nil {
		return nil, err
	}
	if !decision.ShouldProcess {
		result.Skipped = true
		return result, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	parsed, err := excel.Import(file)
	file.Close()
	if err != nil {
		if merr := m.tracker.Mark(decision, StatusFailed); merr != nil {
			logger.Warnf("Inbox: %v", merr)
		}
		return nil, err
	}
	result.Invalid = parsed.Errors

	for _, c := range parsed.Contracts {
		if ctx.Err() != nil {
			break
		}
		switch err := m.post(ctx, c); {
		case err == nil:
			result.Imported++
		case errors.Is(err, client.ErrQueued):
			result.Queued++
		default:
			result.Failed++
			logger.Warnf("Inbox: %s: contract %q not imported: %v", filepath.Base(path), c.OrganizationName, err)
		}
	}

	if err := m.tracker.Mark(decision, result.Status()); err != nil {
		logger.Warnf("Inbox: %v", err)
	}
	logger.Printf("Inbox: %s imported=%d queued=%d failed=%d invalid=%d",
		filepath.Base(path), result.Imported, result.Queued, result.Failed, len(result.Invalid))
	return result, nil
}

func (m *Manager) post(ctx context.Context, c contracts.Contract) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", m.opts.UserID)
	req.Header.Set("X-User-Role", m.opts.UserRole)
	req.Header.Set(SourceHeader, "import")

	resp, err := m.doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		var payload struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&payload)
		return fmt.Errorf("server responded %d: %s", resp.StatusCode, payload.Error)
	}
	return nil
}
