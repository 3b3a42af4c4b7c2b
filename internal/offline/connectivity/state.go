package connectivity

import "sync"

// State is the last known network connectivity, shared by the scheduler
// (writer) and the sync engine (reader).
type State struct {
	mu     sync.RWMutex
	online bool
}

// NewState creates a State with the given initial value
func NewState(online bool) *State {
	return &State{online: online}
}

// Online reports whether the network is believed reachable
func (s *State) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Set records the new value and reports whether it changed
func (s *State) Set(online bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.online != online
	s.online = online
	return changed
}
