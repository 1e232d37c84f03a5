// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readValue(t *testing.T, db *DB, key string) (string, error) {
	t.Helper()
	var out string
	err := db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		out = string(val)
		return err
	})
	return out, err
}

func TestOpen(t *testing.T) {
	t.Run("memory database has no path", func(t *testing.T) {
		db := openMemory(t)
		assert.True(t, db.InMemory())
		assert.Empty(t, db.Path())
		assert.NoError(t, db.Sync())
		assert.Nil(t, db.stopGC, "GC never runs in memory")
	})

	t.Run("disk database without path", func(t *testing.T) {
		_, err := Open(Config{})
		assert.ErrorIs(t, err, ErrPathRequired)
	})

	t.Run("disk database creates nested directory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Path = t.TempDir() + "/nested/states"
		cfg.GCInterval = 0

		db, err := Open(cfg)
		require.NoError(t, err)
		defer db.Close()

		assert.False(t, db.InMemory())
		assert.Equal(t, cfg.Path, db.Path())
	})
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 5*time.Minute, cfg.GCInterval)
	assert.Equal(t, 0.5, cfg.GCDiscardRatio)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCInterval)
}

func TestReopenKeepsStates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	ctx := context.Background()

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("State/ca"), []byte(`{"name":"California"}`))
	}))
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	val, err := readValue(t, reopened, "State/ca")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"California"}`, val)
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("error discards writes", func(t *testing.T) {
		db := openMemory(t)
		abort := errors.New("abort")

		err := db.WithTxn(ctx, func(txn *badger.Txn) error {
			require.NoError(t, txn.Set([]byte("State/tx"), []byte("{}")))
			return abort
		})
		assert.ErrorIs(t, err, abort)

		_, err = readValue(t, db, "State/tx")
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
	})

	t.Run("read transaction rejects writes", func(t *testing.T) {
		db := openMemory(t)
		err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
			return txn.Set([]byte("State/ro"), []byte("{}"))
		})
		assert.ErrorIs(t, err, badger.ErrReadOnlyTxn)
	})

	t.Run("cancelled context skips fn", func(t *testing.T) {
		db := openMemory(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		calls := 0
		fn := func(*badger.Txn) error { calls++; return nil }
		assert.ErrorIs(t, db.WithTxn(cancelled, fn), context.Canceled)
		assert.ErrorIs(t, db.WithReadTxn(cancelled, fn), context.Canceled)
		assert.Zero(t, calls)
	})
}

func TestGCLoopStopsOnClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 5 * time.Millisecond
	cfg.GCDiscardRatio = 7

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, db.stopGC)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, db.Close())

	select {
	case <-db.gcDone:
	default:
		t.Fatal("GC goroutine still running after Close")
	}
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	l := badgerLogger{log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Warningf("table %d compacted", 3)
	l.Debugf("flush")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "table 3 compacted")
	assert.Contains(t, out, "component=badger")
	assert.Contains(t, out, "level=DEBUG")
}
