// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exception

import (
	"sync"
	"time"
)

// WarningInfo is a snapshot of a stored warning.
type WarningInfo struct {
	Message  string
	Kind     Kind
	Severity Severity
	Code     int
	Location Location
	Time     time.Time
}

// Warning holds the most recent warning of an Object.
//
// Setting a warning never fails and never unwinds the caller; readers such
// as the status surface take snapshots concurrently.
//
// Thread Safety: Safe for concurrent use. The zero value is empty and ready.
type Warning struct {
	mu   sync.RWMutex
	err  error
	info WarningInfo
}

// Set stores err as the current warning. A nil err resets the holder.
func (w *Warning) Set(err error) {
	if err == nil {
		w.Reset()
		return
	}

	info := WarningInfo{
		Message:  err.Error(),
		Kind:     KindOf(err),
		Severity: SeverityOf(err),
		Code:     CodeOf(err),
		Time:     time.Now(),
	}
	if e, ok := As(err); ok {
		info.Location = e.Location
	}

	w.mu.Lock()
	w.err = err
	w.info = info
	w.mu.Unlock()
}

// Get returns the current warning, nil if none is set.
func (w *Warning) Get() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Snapshot returns a copy of the current warning and whether one is set.
func (w *Warning) Snapshot() (WarningInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.info, w.err != nil
}

// Reset clears the warning.
func (w *Warning) Reset() {
	w.mu.Lock()
	w.err = nil
	w.info = WarningInfo{}
	w.mu.Unlock()
}
