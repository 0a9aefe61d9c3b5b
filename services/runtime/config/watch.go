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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 50 * time.Millisecond

// Watch reloads the project file at path whenever it changes and calls
// onChange with the new config. Files that fail to parse or validate are
// logged and skipped; the last good config stays in effect.
//
// # Description
//
// The directory of path is watched rather than the file itself so that
// editors which save by rename keep being followed. Watch blocks until
// ctx is done.
//
// # Outputs
//
//   - nil when ctx is done.
//   - FileIO if the watcher cannot be created.
func Watch(ctx context.Context, path string, log *logging.Logger, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return exception.FileIO(err, "resolving %s", path)
	}
	last, err := os.ReadFile(abs)
	if err != nil {
		return exception.FileIO(err, "reading config %s", abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return exception.FileIO(err, "creating file watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return exception.FileIO(err, "watching %s", filepath.Dir(abs))
	}

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "path", abs, "error", err)

		case <-timer.C:
			data, err := os.ReadFile(abs)
			if err != nil {
				// Renamed away and not yet replaced.
				log.Debug("config not readable", "path", abs, "error", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				log.LogError(exception.Forward(err, "config reload"), "path", abs)
				continue
			}
			last = data
			log.Info("config reloaded", "path", abs, "objects", len(cfg.Objects))
			onChange(cfg)
		}
	}
}
