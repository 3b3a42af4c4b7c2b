// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package scheduler

import (
	"errors"
	"sort"
	"sync"

	"github.com/contracts-hub/internal/logger"
)

// DeferredSync holds registered sync tags until connectivity returns, then
// fires each one once. Registering the same tag twice while pending fires it
// only once.
type DeferredSync struct {
	mu      sync.Mutex
	fire    func(tag string)
	online  bool
	pending map[string]struct{}
}

// NewDeferredSync creates a registrar that calls fire for every tag that
// becomes due. online is the starting connectivity.
func NewDeferredSync(fire func(tag string), online bool) *DeferredSync {
	return &DeferredSync{
		fire:    fire,
		online:  online,
		pending: make(map[string]struct{}),
	}
}

// Register implements BackgroundSync
func (d *DeferredSync) Register(tag string) error {
	if tag == "" {
		return errors.New("empty sync tag")
	}

	d.mu.Lock()
	if d.online {
		d.mu.Unlock()
		d.fire(tag)
		return nil
	}
	d.pending[tag] = struct{}{}
	d.mu.Unlock()

	logger.Debugf("DeferredSync: tag %q pending until online", tag)
	return nil
}

// SetOnline records connectivity; going online fires every pending tag
func (d *DeferredSync) SetOnline(online bool) {
	d.mu.Lock()
	d.online = online
	if !online || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	tags := make([]string, 0, len(d.pending))
	for tag := range d.pending {
		tags = append(tags, tag)
	}
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	sort.Strings(tags)
	for _, tag := range tags {
		logger.Printf("DeferredSync: firing %q", tag)
		d.fire(tag)
	}
}

// Pending returns the tags waiting for connectivity
func (d *DeferredSync) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	tags := make([]string, 0, len(d.pending))
	for tag := range d.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
