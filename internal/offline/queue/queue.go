// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying backend.
	// A mutation that hits it at enqueue time is lost.
	ErrStorageUnavailable = errors.New("queue storage unavailable")

	// ErrMethodNotQueueable is returned for GET/HEAD/OPTIONS requests
	ErrMethodNotQueueable = errors.New("only POST, PUT and DELETE requests can be queued")

	// ErrDuplicateID is returned by backends when an id is already stored
	ErrDuplicateID = errors.New("queue item id already exists")
)

// Header is a single captured request header
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list, frozen at enqueue time
type Headers []Header

// HeadersFromHTTP captures h as an ordered list sorted by header name.
// Multi-valued headers keep their value order.
func HeadersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(names))
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}

// Get returns the first value for name (case-insensitive)
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Apply adds every header to dst in order
func (h Headers) Apply(dst http.Header) {
	for _, hdr := range h {
		dst.Add(hdr.Name, hdr.Value)
	}
}

// Item is a pending mutation awaiting replay. Items are never modified once stored.
type Item struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	Method     string  `json:"method"`
	Headers    Headers `json:"headers"`
	Body       string  `json:"body"`
	EnqueuedAt int64   `json:"enqueuedAt"` // ms since epoch, diagnostics only
}

// Clone returns a deep copy so callers cannot alias stored headers
func (it Item) Clone() Item {
	c := it
	c.Headers = append(Headers(nil), it.Headers...)
	return c
}

// Backend is a keyed, insertion-ordered store of queue items
type Backend interface {
	// Put appends an item. It must fail with ErrDuplicateID if the id exists.
	Put(ctx context.Context, item Item) error

	// List returns every item in insertion order.
	List(ctx context.Context) ([]Item, error)

	// Delete removes one item. An absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every item.
	Clear(ctx context.Context) error

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Notifier is told about every successfully enqueued item, so it can
// schedule a sync.
type Notifier interface {
	Queued(item Item)
}

// Store is the durable queue of failed mutations
type Store struct {
	backend  Backend
	notifier Notifier
	notifyMu sync.RWMutex
	now      func() time.Time
	newID    func() string
}

// NewStore creates a queue store over backend
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// SetNotifier installs the component told about new items (the scheduler)
func (s *Store) SetNotifier(n Notifier) {
	s.notifyMu.Lock()
	s.notifier = n
	s.notifyMu.Unlock()
}

// AddToQueue persists a new item and then signals the notifier.
// The returned error wraps ErrStorageUnavailable when the backend failed.
func (s *Store) AddToQueue(ctx context.Context, url, method string, headers Headers, body string) (Item, error) {
	method = strings.ToUpper(method)
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return Item{}, fmt.Errorf("%w: %s", ErrMethodNotQueueable, method)
	}

	item := Item{
		ID:         s.newID(),
		URL:        url,
		Method:     method,
		Headers:    append(Headers(nil), headers...),
		Body:       body,
		EnqueuedAt: s.now().UnixMilli(),
	}

	if err := s.backend.Put(ctx, item); err != nil {
		log.Printf("AddToQueue: failed to persist %s %s: %v", method, url, err)
		return Item{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	log.Printf("AddToQueue: queued id=%s %s %s bodySize=%d", item.ID, method, url, len(body))

	s.notifyMu.RLock()
	n := s.notifier
	s.notifyMu.RUnlock()
	if n != nil {
		n.Queued(item.Clone())
	}

	return item, nil
}

// GetQueue returns every pending item in insertion order
func (s *Store) GetQueue(ctx context.Context) ([]Item, error) {
	items, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out, nil
}

// RemoveFromQueue deletes one item. Removing an absent id is not an error.
func (s *Store) RemoveFromQueue(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// ClearQueue deletes every item unconditionally
func (s *Store) ClearQueue(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	log.Printf("ClearQueue: queue cleared")
	return nil
}

// GetQueueLength returns the number of pending items
func (s *Store) GetQueueLength(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return n, nil
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
