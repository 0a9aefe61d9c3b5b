// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lockable provides timeout-bounded mutual exclusion for Object data.
//
// # Description
//
// A [Mutex] is acquired with a timeout so that a potential deadlock between
// Objects degrades into a recoverable Timeout error instead of a hang.
// Reentrant mutexes recognise their holder by an [Owner] carried in the
// context: every Object worker goroutine runs with its own owner, so a
// public method that locks and then calls another locking method of the
// same Object does not deadlock.
//
// [Synchronized] couples a value with a reentrant mutex and hands out a
// [Locked] token on success. Functions that require the lock to be held
// take the token as a parameter, so calling them without holding the lock
// does not compile.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package lockable

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// Owner identifies a lock holder across nested calls.
type Owner struct {
	id uuid.UUID
}

// NewOwner creates a new unique owner.
func NewOwner() *Owner {
	return &Owner{id: uuid.New()}
}

// String returns the owner's id.
func (o *Owner) String() string {
	if o == nil {
		return "<anonymous>"
	}
	return o.id.String()
}

type ownerKey struct{}

// WithOwner returns ctx carrying a fresh Owner. A context that already
// carries an owner is returned unchanged.
func WithOwner(ctx context.Context) context.Context {
	if _, ok := OwnerFrom(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, NewOwner())
}

// WithNewOwner returns ctx carrying a fresh Owner, replacing any owner
// ctx already carries. Worker goroutines use it so that they never share
// lock ownership with the goroutine that started them.
func WithNewOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, NewOwner())
}

// OwnerFrom returns the Owner carried by ctx.
func OwnerFrom(ctx context.Context) (*Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(*Owner)
	return o, ok && o != nil
}

// Mutex is a mutual exclusion lock acquired with a timeout.
//
// The zero value is not usable; create mutexes with New or NewReentrant.
type Mutex struct {
	name      string
	reentrant bool
	sem       *semaphore.Weighted

	mu    sync.Mutex
	owner *Owner
	depth int
}

// New creates a non-reentrant mutex. Locking it twice from the same owner
// times out like any other contention.
func New(name string) *Mutex {
	return &Mutex{name: name, sem: semaphore.NewWeighted(1)}
}

// NewReentrant creates a mutex the current holder may lock again.
func NewReentrant(name string) *Mutex {
	m := New(name)
	m.reentrant = true
	return m
}

// Name returns the resource name used in errors and metrics.
func (m *Mutex) Name() string {
	return m.name
}

// Lock acquires the mutex.
//
// # Description
//
// Blocks until the mutex is obtained, timeout elapses or ctx is done.
// A zero timeout waits without bound. If the mutex is reentrant and the
// owner carried by ctx already holds it, Lock succeeds immediately and the
// mutex is only released once every handle has been unlocked.
//
// # Outputs
//
//   - *Handle: releases the lock; safe to defer and to unlock twice.
//   - error: exception Timeout when timeout elapsed, NotAvailable when ctx
//     was cancelled first.
func (m *Mutex) Lock(ctx context.Context, timeout time.Duration) (*Handle, error) {
	owner, hasOwner := OwnerFrom(ctx)

	if m.reentrant && hasOwner {
		m.mu.Lock()
		if m.owner == owner {
			m.depth++
			m.mu.Unlock()
			return &Handle{m: m}, nil
		}
		m.mu.Unlock()
	}

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := m.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, exception.Wrap(exception.KindNotAvailable, ctx.Err(), "acquiring lock of %s cancelled", m.name)
		}
		lockTimeouts.WithLabelValues(m.name).Inc()
		return nil, exception.Timeout("timeout (%s) occurred while locking %s", timeout, m.name)
	}

	m.mu.Lock()
	m.owner = owner
	m.depth = 1
	m.mu.Unlock()

	return &Handle{m: m}, nil
}

// TryLock acquires the mutex only if that is possible without waiting.
func (m *Mutex) TryLock(ctx context.Context) (*Handle, bool) {
	owner, hasOwner := OwnerFrom(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reentrant && hasOwner && m.owner == owner {
		m.depth++
		return &Handle{m: m}, true
	}
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	m.owner = owner
	m.depth = 1
	return &Handle{m: m}, true
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}

// Depth returns the current reentrancy depth, 0 when unlocked.
func (m *Mutex) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

func (m *Mutex) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 {
		panic("lockable: unlock of unlocked mutex " + m.name)
	}
	m.depth--
	if m.depth == 0 {
		m.owner = nil
		m.sem.Release(1)
	}
}

// Handle represents one successful acquisition.
type Handle struct {
	m        *Mutex
	released atomic.Bool
}

// Unlock releases this acquisition. Further calls are no-ops.
func (h *Handle) Unlock() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.m.release()
}

// Released reports whether Unlock has been called.
func (h *Handle) Released() bool {
	return h.released.Load()
}
