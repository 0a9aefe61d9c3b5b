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
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// Registry holds the Objects of a project by name.
//
// Objects are kept in insertion order. Stop follows the links instead,
// so users are stopped before the Objects they use whatever order they
// were added in.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]Runnable
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]Runnable)}
}

// Add registers obj. Names must be unique.
func (r *Registry) Add(obj Runnable) error {
	if obj == nil {
		return exception.InvalidArgument("cannot register nil object")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[obj.Name()]; ok {
		return exception.InvalidArgument("object %s is already registered", obj.Name())
	}
	r.objects[obj.Name()] = obj
	r.order = append(r.order, obj.Name())
	return nil
}

// Get returns the Object named name.
func (r *Registry) Get(name string) (Runnable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[name]
	return obj, ok
}

// Objects returns all Objects in insertion order.
func (r *Registry) Objects() []Runnable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Runnable, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.objects[name])
	}
	return out
}

// Start starts every Object concurrently and waits until all of them are
// ready. Objects wait for the Objects they link to on their own.
//
// Returns the first failure. Objects that did start keep running; call
// Stop to end them.
func (r *Registry) Start(ctx context.Context, readyTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, obj := range r.Objects() {
		g.Go(func() error {
			if err := obj.Start(ctx); err != nil {
				return err
			}
			return obj.WaitReady(gctx, readyTimeout)
		})
	}
	return g.Wait()
}

// Stop stops every Object in reverse dependency order and joins the
// errors. Objects without links stop in reverse insertion order.
func (r *Registry) Stop(ctx context.Context) error {
	var errs []error
	for _, obj := range StopOrder(r.Objects()) {
		if err := obj.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// linkTargeter is implemented by Objects that declared links.
type linkTargeter interface {
	LinkTargets() []string
}

// StopOrder returns objects ordered so that every Object comes before the
// Objects it links to. Links to Objects outside the slice are ignored and
// a link cycle is broken at the first Object reached twice.
func StopOrder(objects []Runnable) []Runnable {
	byName := make(map[string]Runnable, len(objects))
	for _, obj := range objects {
		byName[obj.Name()] = obj
	}

	visited := make(map[string]bool, len(objects))
	order := make([]Runnable, 0, len(objects))
	var visit func(obj Runnable)
	visit = func(obj Runnable) {
		if visited[obj.Name()] {
			return
		}
		visited[obj.Name()] = true
		if lt, ok := obj.(linkTargeter); ok {
			for _, target := range lt.LinkTargets() {
				if dep, ok := byName[target]; ok {
					visit(dep)
				}
			}
		}
		order = append(order, obj)
	}
	for _, obj := range objects {
		visit(obj)
	}

	// order lists dependencies first.
	slices.Reverse(order)
	return order
}

// Snapshot returns the Info of every Object in insertion order.
func (r *Registry) Snapshot() []Info {
	objects := r.Objects()
	out := make([]Info, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj.Info())
	}
	return out
}
