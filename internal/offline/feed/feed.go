// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contracts-hub/internal/logger"
)

const (
	readTimeout    = 60 * time.Second
	reconnectDelay = 5 * time.Second
)

// Notification is one message from the server's /api/v1/ws endpoint
type Notification struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Feed keeps a WebSocket connection to the contracts server and hands every
// notification to a callback. It reconnects until its context is cancelled.
type Feed struct {
	wsURL     string
	onMessage func(Notification)
	dialer    websocket.Dialer
	retry     time.Duration

	mu        sync.Mutex
	connected bool
}

// Options configures a Feed
type Options struct {
	// ClientID names this agent to the server, so messages sent while it is
	// away wait in its mailbox.
	ClientID string
	// ReconnectDelay defaults to 5s.
	ReconnectDelay time.Duration
}

// New creates a feed for the server at serverURL
func New(serverURL string, opts Options, onMessage func(Notification)) (*Feed, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", serverURL)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	query := url.Values{}
	if opts.ClientID != "" {
		query.Set("client_id", opts.ClientID)
	}
	ws := url.URL{Scheme: scheme, Host: u.Host, Path: "/api/v1/ws", RawQuery: query.Encode()}

	retry := opts.ReconnectDelay
	if retry <= 0 {
		retry = reconnectDelay
	}

	return &Feed{
		wsURL:     ws.String(),
		onMessage: onMessage,
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retry:     retry,
	}, nil
}

// Connected reports whether the feed currently holds a connection
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// Run connects and reads notifications, reconnecting after every failure,
// until ctx is cancelled
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			logger.Debugf("Feed: %v, retrying in %s", err, f.retry)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}

// session runs one connection until it drops
func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	f.setConnected(true)
	defer f.setConnected(false)
	logger.Printf("Feed: connected to %s", f.wsURL)

	// The server pings every 30s; any frame extends the deadline.
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("Feed: connection lost: %v", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			logger.Warnf("Feed: failed to parse notification: %v", err)
			continue
		}
		if f.onMessage != nil {
			f.onMessage(n)
		}
	}
}
