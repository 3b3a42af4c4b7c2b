// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored copy of a response
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Response rebuilds an *http.Response for req from the stored copy
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Cache is one named cache of request key to response
type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (*CachedResponse, bool, error)
	Put(ctx context.Context, key string, resp *CachedResponse) error
}

// CacheStorage holds named caches
type CacheStorage interface {
	// Open returns the named cache, creating it if missing.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a cache and everything in it.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks key up in every cache, oldest cache first.
	Match(ctx context.Context, key string) (*CachedResponse, bool, error)
}

// MemoryCacheStorage keeps caches in process memory
type MemoryCacheStorage struct {
	mu     sync.RWMutex
	names  []string
	caches map[string]map[string]*CachedResponse
}

// NewMemoryCacheStorage creates an empty in-memory cache storage
func NewMemoryCacheStorage() *MemoryCacheStorage {
	return &MemoryCacheStorage{caches: make(map[string]map[string]*CachedResponse)}
}

func (m *MemoryCacheStorage) Open(ctx context.Context, name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		m.caches[name] = make(map[string]*CachedResponse)
		m.names = append(m.names, name)
	}
	return &memoryCache{storage: m, name: name}, nil
}

func (m *MemoryCacheStorage) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...), nil
}

func (m *MemoryCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryCacheStorage) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.names {
		if resp, ok := m.caches[name][key]; ok {
			return copyResponse(resp), true, nil
		}
	}
	return nil, false, nil
}

type memoryCache struct {
	storage *MemoryCacheStorage
	name    string
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()
	resp, ok := c.storage.caches[c.name][key]
	if !ok {
		return nil, false, nil
	}
	return copyResponse(resp), true, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, resp *CachedResponse) error {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	entries, ok := c.storage.caches[c.name]
	if !ok {
		// Deleted after Open; recreate like a fresh Open would.
		entries = make(map[string]*CachedResponse)
		c.storage.caches[c.name] = entries
		c.storage.names = append(c.storage.names, c.name)
	}
	entries[key] = copyResponse(resp)
	return nil
}

// Entries lists the request keys stored in a cache, sorted
func (m *MemoryCacheStorage) Entries(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.caches[name] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyResponse(r *CachedResponse) *CachedResponse {
	return &CachedResponse{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     append([]byte(nil), r.Body...),
		StoredAt: r.StoredAt,
	}
}
