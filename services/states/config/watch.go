// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc receives the result of every reload. cfg is valid only when
// err is nil; a failed reload leaves the running configuration in place.
type ReloadFunc func(cfg Config, err error)

// Watch reloads the file at path whenever it changes.
//
// Description:
//
//	Watches the file's directory rather than the file so that editors and
//	config management tools that replace the file by rename are seen.
//	Events for other files in the directory are ignored. Bursts within
//	debounce are collapsed into one reload. Blocks until ctx is done.
//
// Inputs:
//
//	ctx - Cancel to stop watching.
//	path - Config file passed to Load.
//	debounce - Quiet period before reloading. Non-positive uses DefaultDebounce.
//	onReload - Called from the watch goroutine after each reload.
//
// Outputs:
//
//	error - Non-nil only if the watcher cannot be started.
func Watch(ctx context.Context, path string, debounce time.Duration, onReload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			cfg, err := Load(abs)
			onReload(cfg, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onReload(Config{}, fmt.Errorf("watch config: %w", err))
		}
	}
}
