// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/metrics"
	"github.com/contracts-hub/internal/offline/bus"
)

const (
	offlineMutationMessage = "Нет подключения к интернету. Запрос будет выполнен при восстановлении связи."
	offlineReadMessage     = "Нет подключения к интернету"
)

// DefaultStaticAssets is the install manifest used when none is configured
var DefaultStaticAssets = []string{"/", "/index.html", "/manifest.json"}

// OfflineBody is the JSON body of a synthetic offline response
type OfflineBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Cached  *bool  `json:"cached,omitempty"`
}

// Options configures an Interceptor
type Options struct {
	// Upstream is the server origin, e.g. http://localhost:3001.
	Upstream string
	// Transport reaches the network (default http.DefaultTransport).
	Transport    http.RoundTripper
	Storage      CacheStorage
	Prefix       string // default "contracts"
	Version      string // default "v1"
	StaticAssets []string
	Bus          *bus.Bus
}

// Interceptor sits between callers and the network. Mutations pass through,
// API reads are network first with a cache fallback, static assets are
// cache first. A network failure never surfaces as an error: it becomes a
// synthetic 503 carrying {"offline": true}.
type Interceptor struct {
	upstream  *url.URL
	transport http.RoundTripper
	storage   CacheStorage
	assets    []string
	staticKey string
	apiKey    string
	bus       *bus.Bus
	now       func() time.Time
}

// New creates an interceptor
func New(opts Options) (*Interceptor, error) {
	upstream, err := url.Parse(opts.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", opts.Upstream)
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "contracts"
	}
	version := opts.Version
	if version == "" {
		version = "v1"
	}
	assets := opts.StaticAssets
	if len(assets) == 0 {
		assets = DefaultStaticAssets
	}

	return &Interceptor{
		upstream:  upstream,
		transport: transport,
		storage:   opts.Storage,
		assets:    assets,
		staticKey: fmt.Sprintf("%s-app-%s", prefix, version),
		apiKey:    fmt.Sprintf("%s-api-%s", prefix, version),
		bus:       opts.Bus,
		now:       time.Now,
	}, nil
}

// StaticCacheName is the name of the current static asset cache
func (i *Interceptor) StaticCacheName() string { return i.staticKey }

// APICacheName is the name of the current API response cache
func (i *Interceptor) APICacheName() string { return i.apiKey }

// Install fetches every static asset into the static cache. It fails if any
// asset cannot be fetched with status 200.
func (i *Interceptor) Install(ctx context.Context) error {
	cache, err := i.storage.Open(ctx, i.staticKey)
	if err != nil {
		return err
	}

	for _, asset := range i.assets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.resolve(asset), nil)
		if err != nil {
			return fmt.Errorf("install: bad asset %s: %w", asset, err)
		}
		resp, err := i.transport.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("install: failed to fetch %s: %w", asset, err)
		}
		stored, err := capture(resp, i.now())
		if err != nil {
			return fmt.Errorf("install: failed to read %s: %w", asset, err)
		}
		if stored.Status != http.StatusOK {
			return fmt.Errorf("install: %s responded %d", asset, stored.Status)
		}
		if err := cache.Put(ctx, cacheKey(req), stored); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}

	logger.Printf("Interceptor: installed %d static assets into %s", len(i.assets), i.staticKey)
	return nil
}

// Activate deletes every cache that is neither the current static nor the
// current API cache.
func (i *Interceptor) Activate(ctx context.Context) error {
	names, err := i.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, name := range names {
		if name == i.staticKey || name == i.apiKey {
			continue
		}
		if _, err := i.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("activate: failed to delete %s: %w", name, err)
		}
		logger.Printf("Interceptor: deleted stale cache %s", name)
	}
	return nil
}

// RoundTrip implements http.RoundTripper. It never returns an error; network
// failures come back as synthetic 503 responses.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case req.Method != http.MethodGet:
		return i.passThrough(req), nil
	case isAPIRoute(req.URL.Path):
		return i.networkFirst(req), nil
	default:
		return i.cacheFirst(req), nil
	}
}

// ServeHTTP proxies r to the upstream origin through RoundTrip
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, i.resolve(r.URL.RequestURI()), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	out.Header.Del("Connection")
	out.ContentLength = r.ContentLength

	resp, _ := i.RoundTrip(out)
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (i *Interceptor) passThrough(req *http.Request) *http.Response {
	resp, err := i.transport.RoundTrip(req)
	if err != nil {
		logger.Warnf("Interceptor: %s %s failed: %v", req.Method, req.URL.Path, err)
		metrics.InterceptedTotal.WithLabelValues("mutation", "offline").Inc()
		return offlineResponse(req, OfflineBody{Error: offlineMutationMessage, Offline: true})
	}
	metrics.InterceptedTotal.WithLabelValues("mutation", "network").Inc()
	return resp
}

func (i *Interceptor) networkFirst(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cacheKey(req)

	resp, err := i.transport.RoundTrip(req)
	if err == nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.InterceptedTotal.WithLabelValues("api", "network").Inc()
			return resp
		}
		stored, rerr := capture(resp, i.now())
		if rerr == nil {
			metrics.InterceptedTotal.WithLabelValues("api", "network").Inc()
			i.store(ctx, i.apiKey, key, stored)
			i.bus.Publish(bus.Message{Type: bus.TypeCacheUpdated, URL: key, Message: "api response cached"})
			return stored.Response(req)
		}
		// A body cut off mid-read is as good as no response.
		err = fmt.Errorf("failed to read response: %w", rerr)
	}

	logger.Debugf("Interceptor: %s unreachable, trying cache: %v", req.URL.Path, err)
	cached, ok, cerr := i.storage.Match(ctx, key)
	if cerr != nil {
		logger.Errorf("Interceptor: cache lookup for %s failed: %v", key, cerr)
	}
	if ok {
		metrics.InterceptedTotal.WithLabelValues("api", "cache").Inc()
		return cached.Response(req)
	}
	metrics.InterceptedTotal.WithLabelValues("api", "offline").Inc()
	return offlineResponse(req, OfflineBody{Error: offlineReadMessage, Offline: true, Cached: boolPtr(false)})
}

func (i *Interceptor) cacheFirst(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cacheKey(req)

	cached, ok, err := i.storage.Match(ctx, key)
	if err != nil {
		logger.Errorf("Interceptor: cache lookup for %s failed: %v", key, err)
	}
	if ok {
		metrics.InterceptedTotal.WithLabelValues("static", "cache").Inc()
		return cached.Response(req)
	}

	resp, err := i.transport.RoundTrip(req)
	if err != nil {
		metrics.InterceptedTotal.WithLabelValues("static", "offline").Inc()
		return offlineResponse(req, OfflineBody{Error: offlineReadMessage, Offline: true})
	}
	metrics.InterceptedTotal.WithLabelValues("static", "network").Inc()
	if resp.StatusCode != http.StatusOK {
		return resp
	}

	stored, err := capture(resp, i.now())
	if err != nil {
		return offlineResponse(req, OfflineBody{Error: offlineReadMessage, Offline: true})
	}
	i.store(ctx, i.staticKey, key, stored)
	return stored.Response(req)
}

func (i *Interceptor) store(ctx context.Context, cacheName, key string, resp *CachedResponse) {
	cache, err := i.storage.Open(ctx, cacheName)
	if err == nil {
		err = cache.Put(ctx, key, resp)
	}
	if err != nil {
		logger.Errorf("Interceptor: failed to cache %s in %s: %v", key, cacheName, err)
	}
}

func (i *Interceptor) resolve(requestURI string) string {
	return strings.TrimSuffix(i.upstream.String(), "/") + requestURI
}

func offlineResponse(req *http.Request, body OfflineBody) *http.Response {
	data, _ := json.Marshal(body)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}
}

func capture(resp *http.Response, now time.Time) (*CachedResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now,
	}, nil
}

// cacheKey identifies a request in the caches by path and query, so the
// proxy and the in-process transport share entries.
func cacheKey(req *http.Request) string {
	return req.URL.RequestURI()
}

func isAPIRoute(path string) bool {
	return strings.Contains(path, "/api/")
}

func boolPtr(b bool) *bool { return &b }
