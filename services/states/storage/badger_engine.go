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
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	kv "github.com/AleutianAI/AleutianStates/services/states/storage/badger"
)

const (
	recordPrefix   = "rec/"
	sequencePrefix = "seq/"

	// sequenceBandwidth is how many sequence numbers badger leases at once.
	sequenceBandwidth = 100
)

// badgerEnvelope is the stored value: insertion sequence plus object data.
type badgerEnvelope struct {
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// BadgerEngine stores records in BadgerDB.
//
// Keys are "rec/<kind>/<id>". Each kind has a badger Sequence whose next
// value is stamped on a record when it is first inserted; All sorts by it
// to return insertion order. Every Put and Delete commits its own
// transaction, so Persist only needs to fsync.
//
// Thread Safety: Safe for concurrent use. Writes are serialized so that
// first-insert sequence assignment cannot race.
type BadgerEngine struct {
	db *kv.DB

	writeMu sync.Mutex

	seqMu     sync.Mutex
	sequences map[string]*badger.Sequence

	closeMu sync.RWMutex
	closed  bool
}

// Compile-time check that BadgerEngine satisfies Engine.
var _ Engine = (*BadgerEngine)(nil)

// OpenBadgerEngine opens a BadgerDB with cfg and wraps it in an engine.
//
// Description:
//
//	The engine owns the database and closes it on Close.
//
// Inputs:
//
//	cfg - BadgerDB settings. Path is required unless InMemory is set.
//
// Outputs:
//
//	*BadgerEngine - The engine. Caller must call Close.
//	error - Non-nil if the database cannot be opened.
func OpenBadgerEngine(cfg kv.Config) (*BadgerEngine, error) {
	db, err := kv.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerEngine{
		db:        db,
		sequences: make(map[string]*badger.Sequence),
	}, nil
}

func recordKey(kind, id string) []byte {
	return []byte(recordPrefix + kind + "/" + id)
}

func kindPrefix(kind string) []byte {
	return []byte(recordPrefix + kind + "/")
}

func checkKind(kind string) error {
	if kind == "" || strings.Contains(kind, "/") {
		return fmt.Errorf("invalid record kind %q", kind)
	}
	return nil
}

// Get returns the record for (kind, id).
func (b *BadgerEngine) Get(ctx context.Context, kind, id string) (Record, error) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return Record{}, ErrClosed
	}
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}

	var env badgerEnvelope
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(kind, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("badger get %s/%s: %w", kind, id, err)
	}
	return Record{Kind: kind, ID: id, Data: env.Data}, nil
}

// All returns every record of kind ordered by insertion sequence.
func (b *BadgerEngine) All(ctx context.Context, kind string) ([]Record, error) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	type entry struct {
		seq uint64
		rec Record
	}
	var entries []entry

	prefix := kindPrefix(kind)
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			var env badgerEnvelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return fmt.Errorf("decode %s/%s: %w", kind, id, err)
			}
			entries = append(entries, entry{
				seq: env.Seq,
				rec: Record{Kind: kind, ID: id, Data: env.Data},
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %s: %w", kind, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out, nil
}

// Put inserts or replaces a record in one committed transaction.
func (b *BadgerEngine) Put(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := checkKind(rec.Kind); err != nil {
		return err
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	key := recordKey(rec.Kind, rec.ID)
	err := b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		env := badgerEnvelope{Data: rec.Data}

		item, err := txn.Get(key)
		switch {
		case err == nil:
			var prev badgerEnvelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); err != nil {
				return err
			}
			env.Seq = prev.Seq
		case errors.Is(err, badger.ErrKeyNotFound):
			seq, err := b.nextSequence(rec.Kind)
			if err != nil {
				return err
			}
			env.Seq = seq
		default:
			return err
		}

		val, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("badger put %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Delete removes the record for (kind, id).
func (b *BadgerEngine) Delete(ctx context.Context, kind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	key := recordKey(kind, id)
	err := b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Persist fsyncs the database. Commits are already applied.
func (b *BadgerEngine) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("badger sync: %w", err)
	}
	return nil
}

// Reload is a no-op: reads always go to the database.
func (b *BadgerEngine) Reload(_ context.Context) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close releases leased sequences and closes the database.
func (b *BadgerEngine) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	b.seqMu.Lock()
	for kind, seq := range b.sequences {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %s: %w", kind, err))
		}
	}
	b.sequences = nil
	b.seqMu.Unlock()

	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *BadgerEngine) nextSequence(kind string) (uint64, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	seq, ok := b.sequences[kind]
	if !ok {
		var err error
		seq, err = b.db.GetSequence([]byte(sequencePrefix+kind), sequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("lease sequence %s: %w", kind, err)
		}
		b.sequences[kind] = seq
	}
	return seq.Next()
}
