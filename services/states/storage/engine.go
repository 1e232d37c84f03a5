// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the persistence engines behind the State resource.
//
// # Description
//
// An Engine keeps opaque JSON records indexed by (kind, id). Callers mutate
// the working set with Put and Delete and make changes durable with Persist.
// Three backends are available:
//
//   - memory: process-local maps, nothing survives a restart
//   - file: working set in memory, flushed to one JSON document on Persist
//   - badger: BadgerDB, every mutation is a committed transaction
//
// # Thread Safety
//
// Every Engine is safe for concurrent use. A Get issued after a Put on the
// same engine observes that Put.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no record exists for a (kind, id) pair.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("storage engine closed")

// Record is a single stored object.
type Record struct {
	// Kind groups records of the same type (e.g. "State").
	Kind string `json:"kind"`

	// ID is unique within Kind.
	ID string `json:"id"`

	// Data is the JSON encoding of the object.
	Data json.RawMessage `json:"data"`
}

// Engine is the storage contract used by the resource layer.
type Engine interface {
	// Get returns the record for (kind, id) or ErrNotFound.
	Get(ctx context.Context, kind, id string) (Record, error)

	// All returns every record of kind in insertion order.
	All(ctx context.Context, kind string) ([]Record, error)

	// Put inserts or replaces a record. Replacing keeps the original
	// insertion position.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for (kind, id) or returns ErrNotFound.
	Delete(ctx context.Context, kind, id string) error

	// Persist makes all prior mutations durable.
	Persist(ctx context.Context) error

	// Reload discards unpersisted changes and re-reads the durable form.
	Reload(ctx context.Context) error

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

func validateRecord(rec Record) error {
	if rec.Kind == "" {
		return errors.New("record kind is empty")
	}
	if rec.ID == "" {
		return errors.New("record id is empty")
	}
	if !json.Valid(rec.Data) {
		return errors.New("record data is not valid json")
	}
	return nil
}

func cloneData(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}
