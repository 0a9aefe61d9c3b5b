// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package object

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// Linker is a declared dependency on another Object. Implemented by Link.
type Linker interface {
	// Target returns the name of the linked Object.
	Target() string

	acquire(ctx context.Context, user string, timeout time.Duration) error
	release(user string)
}

// Link is a typed reference from one Object to another one it uses.
//
// The target is resolved from the Registry and locked when the using
// Object initializes. Get fails until then and again after Exit.
type Link[T Runnable] struct {
	reg    *Registry
	target string

	mu     sync.RWMutex
	obj    T
	locked bool
}

// NewLink declares a link to the Object named target in reg.
func NewLink[T Runnable](reg *Registry, target string) *Link[T] {
	return &Link[T]{reg: reg, target: target}
}

// Target returns the name of the linked Object.
func (l *Link[T]) Target() string {
	return l.target
}

// Get returns the linked Object.
//
// Returns LinkedObjectNotLocked if the using Object has not initialized
// the link or has exited.
func (l *Link[T]) Get() (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.locked {
		var zero T
		return zero, exception.LinkedObjectNotLocked("link to %s is not locked", l.target)
	}
	return l.obj, nil
}

// Check returns the linked Object's failure, forwarded, or nil.
func (l *Link[T]) Check() error {
	obj, err := l.Get()
	if err != nil {
		return err
	}
	if err := obj.Err(); err != nil {
		return exception.Forward(err, obj.Name())
	}
	return nil
}

func (l *Link[T]) acquire(ctx context.Context, user string, timeout time.Duration) error {
	if l.reg == nil {
		return exception.InvalidObjectLink("link of %s to %s has no registry", user, l.target)
	}
	r, ok := l.reg.Get(l.target)
	if !ok {
		return exception.InvalidObjectLink("%s links to unknown object %s", user, l.target)
	}
	obj, ok := r.(T)
	if !ok {
		var zero T
		return exception.InvalidObjectLink("%s links to %s of type %T, expected %T", user, l.target, r, zero)
	}

	if err := r.WaitReady(ctx, timeout); err != nil {
		return err
	}
	if err := r.LockObject(user); err != nil {
		return err
	}

	l.mu.Lock()
	l.obj = obj
	l.locked = true
	l.mu.Unlock()
	return nil
}

func (l *Link[T]) release(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return
	}
	l.obj.UnlockObject(user)
	l.locked = false
	var zero T
	l.obj = zero
}
