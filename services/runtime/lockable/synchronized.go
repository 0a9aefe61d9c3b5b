// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockable

import (
	"context"
	"time"
)

// Lockable is implemented by anything that can be locked with a timeout.
type Lockable interface {
	Lock(ctx context.Context, timeout time.Duration) (*Handle, error)
}

// Synchronized guards a value of type T with a reentrant Mutex.
//
// The value is only reachable through a Locked token returned by Lock.
type Synchronized[T any] struct {
	mu    *Mutex
	value T
}

// NewSynchronized wraps value. name identifies the resource in errors.
func NewSynchronized[T any](name string, value T) *Synchronized[T] {
	return &Synchronized[T]{mu: NewReentrant(name), value: value}
}

// Lock acquires the value. See Mutex.Lock for timeout semantics.
func (s *Synchronized[T]) Lock(ctx context.Context, timeout time.Duration) (*Locked[T], error) {
	h, err := s.mu.Lock(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return &Locked[T]{h: h, s: s}, nil
}

// With locks the value, runs fn and unlocks on every path.
func (s *Synchronized[T]) With(ctx context.Context, timeout time.Duration, fn func(*T) error) error {
	l, err := s.Lock(ctx, timeout)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn(l.Get())
}

// IsLocked reports whether any holder currently owns the value.
func (s *Synchronized[T]) IsLocked() bool {
	return s.mu.IsLocked()
}

// Name returns the resource name.
func (s *Synchronized[T]) Name() string {
	return s.mu.Name()
}

// Close asserts that nobody holds the value anymore. Destroying a value
// that is still locked is a defect, so Close panics in that case.
func (s *Synchronized[T]) Close() {
	if s.mu.IsLocked() {
		panic("lockable: " + s.mu.Name() + " closed while still locked")
	}
}

// Locked grants access to a Synchronized value while the lock is held.
//
// Functions requiring the lock take a *Locked[T] parameter instead of
// checking the lock state at runtime.
type Locked[T any] struct {
	h *Handle
	s *Synchronized[T]
}

// Get returns a pointer to the guarded value. It panics after Unlock.
func (l *Locked[T]) Get() *T {
	if l.h.Released() {
		panic("lockable: access to " + l.s.mu.Name() + " after unlock")
	}
	return &l.s.value
}

// Unlock releases the lock. Further calls are no-ops.
func (l *Locked[T]) Unlock() {
	l.h.Unlock()
}

// Owns reports whether l guards s and is still held.
func (l *Locked[T]) Owns(s *Synchronized[T]) bool {
	return l != nil && l.s == s && !l.h.Released()
}
