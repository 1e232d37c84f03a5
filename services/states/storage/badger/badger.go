// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger manages the BadgerDB instance behind the durable State
// backend: option mapping, logging, value log GC and transaction helpers.
// Key layout belongs to the storage package.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrPathRequired is returned by Open for an on-disk Config without Path.
var ErrPathRequired = errors.New("badger: path is required unless in memory")

// Config describes how to open the database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in RAM.
	InMemory bool

	// SyncWrites fsyncs on every commit.
	SyncWrites bool

	// Logger receives badger's own log output. Nil discards it.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero turns GC off.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC. Values outside (0, 1)
	// use 0.5.
	GCDiscardRatio float64
}

// DefaultConfig syncs every write and collects every five minutes.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig is for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes badger.Logger calls to slog at the matching level.
type badgerLogger struct {
	log *slog.Logger
}

func (b badgerLogger) logf(level slog.Level, format string, args []any) {
	b.log.Log(context.Background(), level, fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.logf(slog.LevelError, format, args) }
func (b badgerLogger) Warningf(format string, args ...any) { b.logf(slog.LevelWarn, format, args) }
func (b badgerLogger) Infof(format string, args ...any)    { b.logf(slog.LevelInfo, format, args) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.logf(slog.LevelDebug, format, args) }

// DB is an open BadgerDB plus its background GC loop.
type DB struct {
	*badger.DB

	cfg      Config
	stopGC   context.CancelFunc
	gcDone   chan struct{}
	closeErr error
	closed   sync.Once
}

// Open opens the database described by cfg.
//
// Description:
//
//	For on-disk databases the directory is created first and, when
//	GCInterval is positive, a goroutine runs value log GC until Close.
//	Only one version of each key is retained.
//
// Inputs:
//
//	cfg - Database settings.
//
// Outputs:
//
//	*DB - Open database. Close it when done.
//	error - ErrPathRequired, or a directory or badger open failure.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, ErrPathRequired
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: mkdir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger})
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	db := &DB{DB: raw, cfg: cfg}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		db.stopGC = cancel
		db.gcDone = make(chan struct{})
		go db.gcLoop(ctx)
	}
	return db, nil
}

// Close stops GC and closes the database. Later calls return the first
// result.
func (d *DB) Close() error {
	d.closed.Do(func() {
		if d.stopGC != nil {
			d.stopGC()
			<-d.gcDone
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// Path is the data directory, empty in memory.
func (d *DB) Path() string {
	if d.cfg.InMemory {
		return ""
	}
	return d.cfg.Path
}

// InMemory reports whether nothing is written to disk.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// Sync flushes written data to disk. In memory it does nothing.
func (d *DB) Sync() error {
	if d.cfg.InMemory {
		return nil
	}
	return d.DB.Sync()
}

// WithTxn runs fn inside an update transaction and commits when fn
// succeeds. A cancelled ctx fails before the transaction starts.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: %w", err)
	}
	return d.DB.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: %w", err)
	}
	return d.DB.View(fn)
}

func (d *DB) gcLoop(ctx context.Context) {
	defer close(d.gcDone)

	ratio := d.cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Rewrite files until badger reports nothing left to reclaim.
			var err error
			for err == nil && ctx.Err() == nil {
				err = d.DB.RunValueLogGC(ratio)
			}
			if !errors.Is(err, badger.ErrNoRewrite) && ctx.Err() == nil && d.cfg.Logger != nil {
				d.cfg.Logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}
