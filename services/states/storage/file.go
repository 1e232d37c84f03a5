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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileFormatVersion is written into every document for future migrations.
const fileFormatVersion = 1

// fileDocument is the on-disk layout of a FileEngine.
type fileDocument struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// FileEngine keeps the working set in memory and writes it to a single JSON
// file on Persist.
//
// Writes are atomic: the document goes to a temp file in the same directory,
// is fsynced, then renamed over the target. A crash mid-write leaves the
// previous document intact.
type FileEngine struct {
	path string

	mu     sync.RWMutex
	kinds  map[string]*collection
	closed bool

	// generation counts mutations; persisted is the generation last written.
	// persisted is only touched while holding writeMu.
	generation uint64
	persisted  uint64
	writeMu    sync.Mutex
}

// Compile-time check that FileEngine satisfies Engine.
var _ Engine = (*FileEngine)(nil)

// OpenFileEngine opens a file engine at path, loading any existing document.
//
// Description:
//
//	A missing file is treated as an empty store; the file is created on the
//	first Persist that has something to write.
//
// Inputs:
//
//	path - Location of the JSON document. Must not be empty.
//
// Outputs:
//
//	*FileEngine - The loaded engine. Caller must Close it.
//	error - Non-nil if path is empty or the document cannot be parsed.
func OpenFileEngine(path string) (*FileEngine, error) {
	if path == "" {
		return nil, errors.New("file engine path is required")
	}
	f := &FileEngine{
		path:  path,
		kinds: make(map[string]*collection),
	}
	if err := f.Reload(context.Background()); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the document location.
func (f *FileEngine) Path() string {
	return f.path
}

// Get returns the record for (kind, id).
func (f *FileEngine) Get(_ context.Context, kind, id string) (Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return Record{}, ErrClosed
	}

	c, ok := f.kinds[kind]
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
func (f *FileEngine) All(_ context.Context, kind string) ([]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}

	c, ok := f.kinds[kind]
	if !ok {
		return []Record{}, nil
	}
	return c.records(kind), nil
}

// Put inserts or replaces a record in the working set.
func (f *FileEngine) Put(_ context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	c, ok := f.kinds[rec.Kind]
	if !ok {
		c = newCollection()
		f.kinds[rec.Kind] = c
	}
	c.put(rec.ID, rec.Data)
	f.generation++
	return nil
}

// Delete removes a record from the working set.
func (f *FileEngine) Delete(_ context.Context, kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	c, ok := f.kinds[kind]
	if !ok || !c.remove(id) {
		return ErrNotFound
	}
	f.generation++
	return nil
}

// Persist writes the working set to disk if it changed since the last write.
func (f *FileEngine) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	gen := f.generation
	if gen == f.persisted {
		f.mu.RUnlock()
		return nil
	}
	doc := f.snapshotLocked()
	f.mu.RUnlock()

	return f.writeLocked(doc, gen)
}

// Reload replaces the working set with the document on disk.
func (f *FileEngine) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	kinds, err := readDocument(f.path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.kinds = kinds
	f.generation++
	f.persisted = f.generation
	return nil
}

// Close persists pending changes and closes the engine.
func (f *FileEngine) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	gen := f.generation
	var doc fileDocument
	dirty := gen != f.persisted
	if dirty {
		doc = f.snapshotLocked()
	}
	f.mu.Unlock()

	if dirty {
		return f.writeLocked(doc, gen)
	}
	return nil
}

// snapshotLocked builds the document. Caller holds mu.
func (f *FileEngine) snapshotLocked() fileDocument {
	names := make([]string, 0, len(f.kinds))
	for name := range f.kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := fileDocument{Version: fileFormatVersion, Records: []Record{}}
	for _, name := range names {
		doc.Records = append(doc.Records, f.kinds[name].records(name)...)
	}
	return doc
}

// writeLocked writes doc atomically and records gen as persisted. Caller holds writeMu.
func (f *FileEngine) writeLocked(doc fileDocument, gen uint64) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage document: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(f.path, data); err != nil {
		return err
	}
	f.persisted = gen
	return nil
}

func readDocument(path string) (map[string]*collection, error) {
	kinds := make(map[string]*collection)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kinds, nil
		}
		return nil, fmt.Errorf("read storage file %s: %w", path, err)
	}
	if len(data) == 0 {
		return kinds, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse storage file %s: %w", path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("storage file %s has unsupported version %d", path, doc.Version)
	}

	for _, rec := range doc.Records {
		if err := validateRecord(rec); err != nil {
			return nil, fmt.Errorf("storage file %s: %w", path, err)
		}
		c, ok := kinds[rec.Kind]
		if !ok {
			c = newCollection()
			kinds[rec.Kind] = c
		}
		c.put(rec.ID, rec.Data)
	}
	return kinds, nil
}

// writeFileAtomic writes data via temp file + fsync + rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create storage directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
