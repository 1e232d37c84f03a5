// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans State change notifications out to subscribers.
//
// The resource publishes an Event after every successful create, update
// and delete. The HTTP layer subscribes one channel per WebSocket client.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event and its drop counter increases.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianStates/services/states/datatypes"
)

// Type is the kind of change.
type Type string

const (
	TypeCreated Type = "created"
	TypeUpdated Type = "updated"
	TypeDeleted Type = "deleted"
)

// Event describes one committed change.
type Event struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`

	// State is the value after the change. Nil for deletions.
	State *datatypes.State `json:"state,omitempty"`

	At time.Time `json:"at"`
}

// Publisher accepts change events.
type Publisher interface {
	Publish(Event)
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Hub is an in-process Publisher with any number of subscribers.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// Compile-time check that Hub satisfies Publisher.
var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscription is a live registration on a Hub.
type Subscription struct {
	hub  *Hub
	sub  *subscriber
	once sync.Once
}

// C returns the event channel. It is closed by Cancel or Hub.Close.
func (s *Subscription) C() <-chan Event {
	return s.sub.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.sub.dropped.Load()
}

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s.sub)
	})
}

// Subscribe registers a new subscriber with the given buffer. A buffer
// below 1 uses DefaultBuffer. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	return &Subscription{hub: h, sub: sub}
}

// Publish delivers e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*subscriber]struct{})
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}
