// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"

	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/offline/bus"
	"github.com/contracts-hub/internal/offline/queue"
	"github.com/contracts-hub/internal/offline/syncer"
)

// ErrQueued means the mutation could not reach the server and was queued
// for a later sync
var ErrQueued = errors.New("request queued for sync")

// QueuedError carries the queued item; errors.Is(err, ErrQueued) holds
type QueuedError struct {
	Item queue.Item
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("%s (id=%s)", ErrQueued, e.Item.ID)
}

func (e *QueuedError) Is(target error) bool {
	return target == ErrQueued
}

// Options configures a Client
type Options struct {
	Bus *bus.Bus
	// Alert raises a desktop notification; defaults to beeep.Alert.
	Alert func(title, message string) error
}

// Client issues requests through the interception layer and queues
// mutations that come back offline
type Client struct {
	http  *http.Client
	store *queue.Store
	bus   *bus.Bus
	alert func(title, message string) error
}

// New creates a client sending through transport (normally the interceptor)
func New(transport http.RoundTripper, store *queue.Store, opts Options) *Client {
	alert := opts.Alert
	if alert == nil {
		alert = func(title, message string) error {
			return beeep.Alert(title, message, "")
		}
	}
	return &Client{
		http:  &http.Client{Transport: transport},
		store: store,
		bus:   opts.Bus,
		alert: alert,
	}
}

// Do sends req. Mutations get an Idempotency-Key unless they carry one.
// A POST, PUT or DELETE that fails at transport level or
// comes back as an offline 503 is queued with its exact url, method,
// headers and body, and Do returns a *QueuedError. If the queue itself
// fails, the returned error wraps queue.ErrStorageUnavailable and the
// original failure: the mutation is lost.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !isMutation(req.Method) {
		return c.http.Do(req)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	// The key travels with the first attempt and every replay, so the server
	// can tell a replay of a request it already committed.
	if req.Header.Get(syncer.IdempotencyHeader) == "" {
		req.Header.Set(syncer.IdempotencyHeader, uuid.NewString())
	}
	headers := queue.HeadersFromHTTP(req.Header)

	resp, err := c.http.Do(req)
	cause := err
	if err == nil {
		offline, rerr := offlineResponse(resp)
		if rerr != nil {
			return nil, rerr
		}
		if !offline {
			return resp, nil
		}
		cause = errors.New("server unreachable")
	}

	item, qerr := c.store.AddToQueue(req.Context(), req.URL.String(), req.Method, headers, string(body))
	if qerr != nil {
		c.mutationLost(req, qerr)
		return nil, fmt.Errorf("%w: %w", qerr, cause)
	}

	logger.Printf("Client: %s %s queued as %s", req.Method, req.URL.Path, item.ID)
	return nil, &QueuedError{Item: item}
}

func (c *Client) mutationLost(req *http.Request, err error) {
	logger.Errorf("Client: %s %s lost, queue unavailable: %v", req.Method, req.URL.Path, err)
	c.bus.Publish(bus.Message{
		Type:    bus.TypeMutationLost,
		Message: "change could not be saved for later sync",
		URL:     req.URL.String(),
		Error:   err.Error(),
	})
	title := "Contracts: change lost"
	message := fmt.Sprintf("%s %s could not be queued: %v", req.Method, req.URL.Path, err)
	if aerr := c.alert(title, message); aerr != nil {
		logger.Warnf("Client: failed to send desktop notification: %v", aerr)
	}
}

// offlineResponse reports whether resp is a 503 with {"offline": true}.
// A non-offline response is left readable; an offline one is closed.
func offlineResponse(resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusServiceUnavailable {
		return false, nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}

	var payload struct {
		Offline bool `json:"offline"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Offline {
		return true, nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return false, nil
}

func isMutation(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
