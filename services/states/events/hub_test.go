// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(4)
	b := hub.Subscribe(4)
	defer a.Cancel()
	defer b.Cancel()

	hub.Publish(Event{Type: TypeCreated, ID: "s1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case e := <-sub.C():
			assert.Equal(t, TypeCreated, e.Type)
			assert.Equal(t, "s1", e.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)
	defer sub.Cancel()

	hub.Publish(Event{ID: "1"})
	hub.Publish(Event{ID: "2"})
	hub.Publish(Event{ID: "3"})

	assert.Equal(t, uint64(2), sub.Dropped())
	e := <-sub.C()
	assert.Equal(t, "1", e.ID)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(0)
	require.Equal(t, 1, hub.Subscribers())

	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())

	assert.NotPanics(t, func() { hub.Publish(Event{ID: "x"}) })
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)

	hub.Close()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NotPanics(t, sub.Cancel)

	late := hub.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok, "subscription after Close starts closed")
}
