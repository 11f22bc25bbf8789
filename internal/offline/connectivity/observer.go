// Package connectivity reports whether the device believes it is online.
//
// The signal is purely local: it is whatever the host platform says, never a
// probe of the backend. A device that claims to be online may still fail to
// reach the backend; the sync engine treats that as a transient failure.
package connectivity

import "sync"

// Observer reports the current connectivity and notifies edges.
type Observer interface {
	IsOnline() bool
	// Subscribe registers fn to be called with the new state after every
	// offline/online transition. The returned func unregisters it.
	Subscribe(fn func(online bool)) (cancel func())
}

// Switch is an Observer whose state is set by its owner, typically the host
// shell forwarding platform connectivity events.
//
// Subscribers are invoked serially, in transition order, on the goroutine
// calling Set. They must not call Set themselves.
type Switch struct {
	deliverMu sync.Mutex

	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewSwitch creates a Switch in the given initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// IsOnline returns the last state set.
func (s *Switch) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the new state. Subscribers are notified only if it changed.
// It reports whether a transition happened.
func (s *Switch) Set(online bool) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
	return true
}

// Subscribe implements Observer.
func (s *Switch) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
