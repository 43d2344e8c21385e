// Package broadcast fans captured messages out to live subscribers.
//
// Each subscriber owns a bounded queue. Publish never blocks: when a queue
// is full the overflow policy decides which message is lost, so delivery to
// a slow subscriber is at-most-once.
package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shineum/mailhits/internal/email"
)

// DefaultCapacity is the per-subscriber queue size used when none is given.
const DefaultCapacity = 100

// Policy selects what happens when a subscriber's queue is full.
type Policy int

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest Policy = iota
	// DropNewest discards the message being published.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string to a Policy. An empty string
// selects DropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Broadcaster is a registry of bounded subscriber queues.
type Broadcaster struct {
	capacity int
	policy   Policy

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// New creates a Broadcaster whose subscribers buffer up to capacity
// messages each.
func New(capacity int, policy Policy) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		capacity: capacity,
		policy:   policy,
		subs:     make(map[uint64]*Subscription),
	}
}

// Subscription is one subscriber's queue. Receive from C; call Close when
// done.
type Subscription struct {
	id      uint64
	b       *Broadcaster
	ch      chan *email.Message
	dropped atomic.Uint64
	closed  bool
}

// Subscribe registers a new subscriber with an empty queue. It only sees
// messages published after this call.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		b:  b,
		ch: make(chan *email.Message, b.capacity),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers a copy of msg to every current subscriber in call order.
func (b *Broadcaster) Publish(msg *email.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.offer(msg.Clone(), b.policy)
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// offer enqueues msg without blocking. Callers hold b.mu, so there is a
// single producer per queue and the retry after evicting cannot race
// another send.
func (s *Subscription) offer(msg *email.Message, policy Policy) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	if policy == DropNewest {
		s.dropped.Add(1)
		return
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// C returns the receive side of the queue. It is closed by Close.
func (s *Subscription) C() <-chan *email.Message {
	return s.ch
}

// Dropped returns how many messages this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.b.subs, s.id)
	close(s.ch)
}
