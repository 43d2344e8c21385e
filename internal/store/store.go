// Package store keeps captured messages in memory, in arrival order.
package store

import (
	"sync"

	"github.com/shineum/mailhits/internal/email"
)

// Store is an ordered, concurrency-safe collection of captured messages.
// Every read returns deep copies so callers never observe later mutation
// and never need the lock while doing I/O.
//
// Lookups are linear scans; the store is sized for a developer inbox, not
// for high-volume capture.
type Store struct {
	mu       sync.RWMutex
	messages []*email.Message
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Append adds msg at the end of the store. The store keeps its own copy.
func (s *Store) Append(msg *email.Message) {
	if msg == nil {
		panic("store: Append called with nil message")
	}
	c := msg.Clone()

	s.mu.Lock()
	s.messages = append(s.messages, c)
	s.mu.Unlock()
}

// List returns a snapshot of all messages in insertion order.
func (s *Store) List() []*email.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*email.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (*email.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

// Delete removes the first message with the given id and reports whether
// one was found.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID == id {
			last := len(s.messages) - 1
			copy(s.messages[i:], s.messages[i+1:])
			s.messages[last] = nil
			s.messages = s.messages[:last]
			return true
		}
	}
	return false
}

// Clear drops every message.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
