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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	kv "github.com/AleutianAI/AleutianStates/services/states/storage/badger"
)

// Backend names accepted by Config.Type.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config selects and tunes the storage backend.
type Config struct {
	// Type is the backend: memory, file or badger.
	Type string `yaml:"type" validate:"oneof=memory file badger"`

	// Path is the JSON document for "file" or the directory for "badger".
	Path string `yaml:"path" validate:"required_unless=Type memory"`

	// SyncWrites fsyncs every badger commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the badger value log GC period. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// DefaultConfig returns an in-process memory store.
func DefaultConfig() Config {
	return Config{
		Type:       BackendMemory,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// Open constructs the backend named by cfg.Type.
//
// Description:
//
//	The returned engine is not instrumented; wrap it with Instrument.
//	For "file" a directory Path gets "states.json" appended.
//
// Inputs:
//
//	cfg - Backend selection. Validate it first.
//	logger - Receives badger's internal log. May be nil.
//
// Outputs:
//
//	Engine - The opened engine. Caller must Close it.
//	error - Non-nil for an unknown type or an open failure.
func Open(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Type {
	case BackendMemory, "":
		return NewMemoryEngine(), nil

	case BackendFile:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "states.json")
		}
		return OpenFileEngine(path)

	case BackendBadger:
		bcfg := kv.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.GCInterval = cfg.GCInterval
		bcfg.Logger = logger
		return OpenBadgerEngine(bcfg)

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
