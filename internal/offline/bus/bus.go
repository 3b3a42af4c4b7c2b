// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package bus

import (
	"sync"
	"time"
)

// Message types exchanged between the agent's page side (client, scheduler)
// and worker side (interceptor, sync engine).
const (
	TypeQueued        = "queued"
	TypeSyncRequested = "sync-requested"
	TypeSynced        = "synced"
	TypeReplayFailed  = "replay-failed"
	TypeCacheUpdated  = "cache-updated"
	TypeConnectivity  = "connectivity"
	TypeMutationLost  = "mutation-lost"
	TypeImported      = "imported"
	TypeRemoteChange  = "remote-change"
)

// Message is a notification published on the bus
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	ItemID    string    `json:"itemId,omitempty"`
	URL       string    `json:"url,omitempty"`
	Count     int       `json:"count,omitempty"`
	Online    *bool     `json:"online,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Bus fans messages out to subscribers without blocking the publisher
type Bus struct {
	subscribers map[chan Message]bool
	mu          sync.RWMutex
}

// New creates an empty bus
func New() *Bus {
	return &Bus{
		subscribers: make(map[chan Message]bool),
	}
}

// Subscribe returns a buffered channel receiving every published message
func (b *Bus) Subscribe(buffer int) chan Message {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	b.subscribers[ch] = true
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber
func (b *Bus) Unsubscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[ch] {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish sends msg to all subscribers. Full subscribers miss the message.
// A nil bus is a valid no-op publisher.
func (b *Bus) Publish(msg Message) {
	if b == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}
