// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	pingInterval  = 30 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	mailboxPrefix = "contracts:mailbox:"
	mailboxTTL    = 7 * 24 * time.Hour
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Clients are the agent and pages it serves on localhost
		return true
	},
}

// NotificationMessage is sent to WebSocket clients
type NotificationMessage struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// WebSocketManager fans notifications out to connected clients. With a
// Redis client, messages for a client that has connected before but is
// currently away are kept in its mailbox and delivered on reconnect.
type WebSocketManager struct {
	clients     map[string]*wsClient
	known       map[string]bool
	clientsMu   sync.RWMutex
	redisClient *redis.Client
	pingTicker  *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWebSocketManager creates a new WebSocket manager; redisClient may be nil
func NewWebSocketManager(redisClient *redis.Client) *WebSocketManager {
	ctx, cancel := context.WithCancel(context.Background())
	wm := &WebSocketManager{
		clients:     make(map[string]*wsClient),
		known:       make(map[string]bool),
		redisClient: redisClient,
		pingTicker:  time.NewTicker(pingInterval),
		ctx:         ctx,
		cancel:      cancel,
	}
	go wm.pingLoop()
	return wm
}

func (wm *WebSocketManager) pingLoop() {
	for {
		select {
		case <-wm.ctx.Done():
			return
		case <-wm.pingTicker.C:
			wm.pingAllClients()
		}
	}
}

// pingAllClients pings every client and drops dead connections
func (wm *WebSocketManager) pingAllClients() {
	for clientID, c := range wm.snapshot() {
		if err := c.write(websocket.PingMessage, nil); err != nil {
			log.Printf("Failed to ping client %s, removing connection: %v", clientID, err)
			wm.remove(clientID, c)
			c.conn.Close()
		}
	}
}

func (wm *WebSocketManager) snapshot() map[string]*wsClient {
	wm.clientsMu.RLock()
	defer wm.clientsMu.RUnlock()
	clients := make(map[string]*wsClient, len(wm.clients))
	for id, c := range wm.clients {
		clients[id] = c
	}
	return clients
}

func (wm *WebSocketManager) remove(clientID string, c *wsClient) {
	wm.clientsMu.Lock()
	if wm.clients[clientID] == c {
		delete(wm.clients, clientID)
	}
	wm.clientsMu.Unlock()
}

// ClientCount returns the number of connected clients
func (wm *WebSocketManager) ClientCount() int {
	wm.clientsMu.RLock()
	defer wm.clientsMu.RUnlock()
	return len(wm.clients)
}

// HandleWebSocket upgrades the connection and keeps it until the client
// leaves. The optional client_id query parameter identifies a returning
// client; without it a fresh id is assigned.
func (wm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn}
	log.Printf("WebSocket client connected: %s", clientID)

	wm.clientsMu.Lock()
	if old, exists := wm.clients[clientID]; exists {
		old.conn.Close()
	}
	wm.clients[clientID] = c
	wm.known[clientID] = true
	wm.clientsMu.Unlock()

	defer func() {
		wm.remove(clientID, c)
		log.Printf("WebSocket client disconnected: %s", clientID)
	}()

	if err := wm.sendPendingMessages(clientID, c); err != nil {
		log.Printf("Failed to send pending messages to %s: %v", clientID, err)
	}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for client %s: %v", clientID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

// Broadcast sends a notification to every connected client and parks it in
// the mailbox of every known client that is away
func (wm *WebSocketManager) Broadcast(eventType, message string, data interface{}) {
	payload, err := json.Marshal(NotificationMessage{
		Type:      eventType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("Failed to encode notification %s: %v", eventType, err)
		return
	}

	wm.clientsMu.RLock()
	var away []string
	for id := range wm.known {
		if _, online := wm.clients[id]; !online {
			away = append(away, id)
		}
	}
	wm.clientsMu.RUnlock()

	for clientID, c := range wm.snapshot() {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			log.Printf("Failed to send WebSocket message to %s: %v", clientID, err)
			away = append(away, clientID)
		}
	}

	for _, clientID := range away {
		if err := wm.pushMailbox(clientID, payload); err != nil {
			log.Printf("Failed to queue notification for %s: %v", clientID, err)
		}
	}
}

func (wm *WebSocketManager) pushMailbox(clientID string, payload []byte) error {
	if wm.redisClient == nil {
		return nil
	}
	ctx := context.Background()
	key := mailboxPrefix + clientID
	if err := wm.redisClient.LPush(ctx, key, payload).Err(); err != nil {
		return err
	}
	return wm.redisClient.Expire(ctx, key, mailboxTTL).Err()
}

// sendPendingMessages delivers the client's mailbox, oldest first
func (wm *WebSocketManager) sendPendingMessages(clientID string, c *wsClient) error {
	if wm.redisClient == nil {
		return nil
	}

	ctx := context.Background()
	key := mailboxPrefix + clientID
	for {
		result, err := wm.redisClient.RPop(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		if err := c.write(websocket.TextMessage, []byte(result)); err != nil {
			// Put it back at the delivery end of the mailbox
			wm.redisClient.RPush(ctx, key, result)
			return err
		}
	}
}

// Stop stops the ping loop and closes every connection
func (wm *WebSocketManager) Stop() {
	wm.cancel()
	wm.pingTicker.Stop()

	wm.clientsMu.Lock()
	for clientID, c := range wm.clients {
		c.conn.Close()
		delete(wm.clients, clientID)
	}
	wm.clientsMu.Unlock()

	log.Printf("WebSocket manager stopped")
}
