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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
)

// MaxSilentUpdateFailures is the number of consecutive recoverable Update
// failures that are tolerated without a warning.
const MaxSilentUpdateFailures = 3

// =============================================================================
// Category
// =============================================================================

// Category is the role of an Object in the runtime.
type Category int

const (
	// CategoryHardwareAdapter talks to a physical device.
	CategoryHardwareAdapter Category = iota

	// CategoryInstrument exposes a device-independent instrument API.
	CategoryInstrument

	// CategoryModule implements measurement logic or services such as a
	// gRPC server on top of instruments.
	CategoryModule
)

// String returns "hardware_adapter", "instrument" or "module".
func (c Category) String() string {
	switch c {
	case CategoryHardwareAdapter:
		return "hardware_adapter"
	case CategoryInstrument:
		return "instrument"
	case CategoryModule:
		return "module"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hardware_adapter":
		return CategoryHardwareAdapter, nil
	case "instrument":
		return CategoryInstrument, nil
	case "module":
		return CategoryModule, nil
	default:
		return 0, exception.InvalidArgument("unknown object category %q", s)
	}
}

// =============================================================================
// State
// =============================================================================

// State is the lifecycle state of an Object.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateExiting
	StateStopped
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateExiting:
		return "exiting"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Info is a point-in-time view of an Object for status reporting.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	State       string `json:"state"`
	Warning     string `json:"warning,omitempty"`
	Error       string `json:"error,omitempty"`
	UseCount    int    `json:"use_count"`
	Escalations uint64 `json:"update_escalations"`
}

// Runnable is the type-independent view of an Object used by the
// Registry, links and the status surface.
type Runnable interface {
	ID() uuid.UUID
	Name() string
	Category() Category
	State() State

	// Start launches the worker goroutine.
	Start(ctx context.Context) error

	// Stop terminates the worker and waits for it to finish.
	Stop(ctx context.Context) error

	// Err returns the error that moved the Object into StateError.
	Err() error

	// Warning returns the holder of the Object's latest warning.
	Warning() *exception.Warning

	Info() Info

	// LockObject marks the Object as used by user.
	LockObject(user string) error

	// UnlockObject releases a use taken with LockObject.
	UnlockObject(user string)

	UseCount() int

	// WaitReady blocks until the Object is ready, failed or stopped.
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// =============================================================================
// Layers and Tasks
// =============================================================================

// HandlerFunc runs on the worker goroutine with the Object's data locked.
type HandlerFunc[D any] func(ctx context.Context, data *lockable.Locked[D]) error

// Layer is the contribution of one level of an Object type to the
// lifecycle. Nil handlers are skipped.
type Layer[D any] struct {
	Name   string
	Init   HandlerFunc[D]
	Update HandlerFunc[D]
	Exit   HandlerFunc[D]
}

// Task is a unit of work executed on the worker goroutine.
type Task[D any] struct {
	// Name labels the task in logs and metrics.
	Name string

	// Run is executed with the Object's data locked.
	Run HandlerFunc[D]

	// Callback, if set, is called on the worker goroutine after Run
	// finished, with Run's error.
	Callback func(err error)
}

// Pending is the completion handle of an enqueued task.
type Pending struct {
	task string
	once sync.Once
	done chan struct{}
	err  error
}

func newPending(task string) *Pending {
	return &Pending{task: task, done: make(chan struct{})}
}

func (p *Pending) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the task finished or was discarded.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the task's error. Only meaningful after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the task finished and returns its error.
//
// The task keeps running if ctx ends first; running tasks cannot be
// cancelled.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exception.Wrap(exception.KindTimeout, ctx.Err(), "waiting for task %s", p.task)
		}
		return exception.Wrap(exception.KindNotAvailable, ctx.Err(), "waiting for task %s", p.task)
	}
}

type queuedTask[D any] struct {
	task    Task[D]
	pending *Pending
}
