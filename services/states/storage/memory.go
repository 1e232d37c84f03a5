// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// collection holds the records of one kind with their insertion order.
type collection struct {
	items map[string]json.RawMessage
	order []string
}

func newCollection() *collection {
	return &collection{items: make(map[string]json.RawMessage)}
}

func (c *collection) put(id string, data json.RawMessage) {
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = cloneData(data)
}

func (c *collection) remove(id string) bool {
	if _, exists := c.items[id]; !exists {
		return false
	}
	delete(c.items, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

func (c *collection) records(kind string) []Record {
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, Record{Kind: kind, ID: id, Data: cloneData(c.items[id])})
	}
	return out
}

// MemoryEngine keeps records in process memory.
//
// Persist and Reload are no-ops: the working set is the durable form for
// the lifetime of the process.
type MemoryEngine struct {
	mu     sync.RWMutex
	kinds  map[string]*collection
	closed bool
}

// Compile-time check that MemoryEngine satisfies Engine.
var _ Engine = (*MemoryEngine)(nil)

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{kinds: make(map[string]*collection)}
}

// Get returns the record for (kind, id).
func (m *MemoryEngine) Get(_ context.Context, kind, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}

	c, ok := m.kinds[kind]
	if !ok {
		return Record{}, ErrNotFound
	}
	data, ok := c.items[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{Kind: kind, ID: id, Data: cloneData(data)}, nil
}

// All returns the records of kind in insertion order.
func (m *MemoryEngine) All(_ context.Context, kind string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	c, ok := m.kinds[kind]
	if !ok {
		return []Record{}, nil
	}
	return c.records(kind), nil
}

// Put inserts or replaces a record.
func (m *MemoryEngine) Put(_ context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	c, ok := m.kinds[rec.Kind]
	if !ok {
		c = newCollection()
		m.kinds[rec.Kind] = c
	}
	c.put(rec.ID, rec.Data)
	return nil
}

// Delete removes a record.
func (m *MemoryEngine) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	c, ok := m.kinds[kind]
	if !ok || !c.remove(id) {
		return ErrNotFound
	}
	return nil
}

// Persist is a no-op.
func (m *MemoryEngine) Persist(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Reload is a no-op.
func (m *MemoryEngine) Reload(_ context.Context) error {
	return m.Persist(context.Background())
}

// Close marks the engine closed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
