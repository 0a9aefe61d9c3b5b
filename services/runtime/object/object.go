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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
)

// Config configures an Object.
//
// Zero durations select the defaults from pkg/util.
type Config struct {
	// Name identifies the Object in the registry, logs and metrics. Required.
	Name string

	// Category is the Object's role.
	Category Category

	// UpdateInterval is the cadence of the Update step.
	// Default: util.DefaultUpdateInterval
	UpdateInterval time.Duration

	// LockTimeout bounds acquisition of the data lock by tasks and
	// lifecycle handlers. Default: util.DefaultLockTimeout
	LockTimeout time.Duration

	// StopTimeout bounds how long Stop waits for the worker.
	// Default: util.DefaultStopTimeout
	StopTimeout time.Duration

	// LinkTimeout bounds how long Init waits for linked Objects to
	// become ready. Default: util.DefaultStopTimeout
	LinkTimeout time.Duration

	// Logger receives the Object's events. Default: logging.EventLog()
	Logger *logging.Logger
}

func (c *Config) applyDefaults() {
	c.UpdateInterval = util.EnforceMinTimeout(util.DefaultIfZero(c.UpdateInterval, util.DefaultUpdateInterval), util.MinUpdateInterval)
	c.LockTimeout = util.DefaultIfZero(c.LockTimeout, util.DefaultLockTimeout)
	c.StopTimeout = util.DefaultIfZero(c.StopTimeout, util.DefaultStopTimeout)
	c.LinkTimeout = util.DefaultIfZero(c.LinkTimeout, util.DefaultStopTimeout)
	if c.Logger == nil {
		c.Logger = logging.EventLog()
	}
}

// Object runs the lifecycle of one runtime Object with data of type D.
//
// Concrete Object types embed *Object[D], add their layers before Start
// and expose their API as methods that enqueue tasks.
type Object[D any] struct {
	id     uuid.UUID
	cfg    Config
	logger *logging.Logger
	data   *lockable.Synchronized[D]

	// set before Start, read-only afterwards
	layers []Layer[D]
	links  []Linker

	mu        sync.Mutex
	state     State
	changed   chan struct{}
	started   bool
	accepting bool
	queue     []*queuedTask[D]
	err       error
	users     map[string]int

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	warning exception.Warning

	// worker goroutine only
	updateFailures int

	escalations atomic.Uint64
	escalateLog *rate.Limiter
}

// New creates an Object holding data. The Object does nothing until Start.
func New[D any](cfg Config, data D) (*Object[D], error) {
	if cfg.Name == "" {
		return nil, exception.InvalidArgument("object name is required")
	}
	cfg.applyDefaults()

	o := &Object[D]{
		id:          uuid.New(),
		cfg:         cfg,
		logger:      cfg.Logger.With("object", cfg.Name, "category", cfg.Category.String()),
		data:        lockable.NewSynchronized(cfg.Name, data),
		changed:     make(chan struct{}),
		users:       make(map[string]int),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		escalateLog: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	objectState.WithLabelValues(cfg.Name).Set(float64(StateCreated))
	return o, nil
}

// AddLayer appends a lifecycle layer. Layers must be added base first.
func (o *Object[D]) AddLayer(layer Layer[D]) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return exception.InvalidState("cannot add layer %s to %s after start", layer.Name, o.cfg.Name)
	}
	o.layers = append(o.layers, layer)
	return nil
}

// Uses declares links to other Objects. They are locked during Init and
// released after Exit.
func (o *Object[D]) Uses(links ...Linker) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return exception.InvalidState("cannot add links to %s after start", o.cfg.Name)
	}
	o.links = append(o.links, links...)
	return nil
}

// LinkTargets returns the names of the Objects declared with Uses.
func (o *Object[D]) LinkTargets() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.links))
	for _, l := range o.links {
		out = append(out, l.Target())
	}
	return out
}

// ID returns the Object's unique id.
func (o *Object[D]) ID() uuid.UUID { return o.id }

// Name returns the configured name.
func (o *Object[D]) Name() string { return o.cfg.Name }

// Category returns the configured category.
func (o *Object[D]) Category() Category { return o.cfg.Category }

// Config returns the effective configuration.
func (o *Object[D]) Config() Config { return o.cfg }

// Logger returns the Object's logger.
func (o *Object[D]) Logger() *logging.Logger { return o.logger }

// Data returns the Object's guarded data for readers outside the worker,
// such as the status surface.
func (o *Object[D]) Data() *lockable.Synchronized[D] { return o.data }

// Warning returns the holder of the latest warning.
func (o *Object[D]) Warning() *exception.Warning { return &o.warning }

// Escalations returns how many Update failures were escalated.
func (o *Object[D]) Escalations() uint64 { return o.escalations.Load() }

// State returns the current lifecycle state.
func (o *Object[D]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that moved the Object into StateError, nil
// otherwise.
func (o *Object[D]) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Info returns a snapshot for status reporting.
func (o *Object[D]) Info() Info {
	o.mu.Lock()
	info := Info{
		ID:          o.id.String(),
		Name:        o.cfg.Name,
		Category:    o.cfg.Category.String(),
		State:       o.state.String(),
		UseCount:    o.useCountLocked(),
		Escalations: o.escalations.Load(),
	}
	if o.err != nil {
		info.Error = o.err.Error()
	}
	o.mu.Unlock()

	if w, ok := o.warning.Snapshot(); ok {
		info.Warning = w.Message
	}
	return info
}

// setStateLocked changes the state and wakes WaitReady callers.
// o.mu must be held.
func (o *Object[D]) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	close(o.changed)
	o.changed = make(chan struct{})
	objectState.WithLabelValues(o.cfg.Name).Set(float64(s))
}

func (o *Object[D]) setState(s State) {
	o.mu.Lock()
	o.setStateLocked(s)
	o.mu.Unlock()
}

// =============================================================================
// Use Counting
// =============================================================================

// LockObject marks the Object as used by user. It fails if the Object is
// in its error state or shutting down.
func (o *Object[D]) LockObject(user string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateError:
		return exception.Forward(o.err, o.cfg.Name)
	case StateExiting, StateStopped:
		return exception.NotAvailable("%s is %s and cannot be used by %s", o.cfg.Name, o.state, user)
	}
	o.users[user]++
	return nil
}

// UnlockObject releases one use by user. Unknown users are ignored.
func (o *Object[D]) UnlockObject(user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := o.users[user]; n > 1 {
		o.users[user] = n - 1
	} else {
		delete(o.users, user)
	}
}

// UseCount returns the number of outstanding LockObject calls.
func (o *Object[D]) UseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.useCountLocked()
}

func (o *Object[D]) useCountLocked() int {
	n := 0
	for _, c := range o.users {
		n += c
	}
	return n
}

// WaitReady blocks until the Object reaches StateReady.
//
// # Outputs
//
//   - nil once ready.
//   - The Object's error, forwarded, if it failed.
//   - NotAvailable if it is shutting down or ctx ends.
//   - Timeout if timeout (> 0) elapses first.
func (o *Object[D]) WaitReady(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		o.mu.Lock()
		state, err, changed := o.state, o.err, o.changed
		o.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateError:
			return exception.Forward(err, o.cfg.Name)
		case StateExiting, StateStopped:
			return exception.NotAvailable("%s is %s", o.cfg.Name, state)
		}

		select {
		case <-changed:
		case <-expired:
			return exception.Timeout("%s did not become ready within %s", o.cfg.Name, timeout)
		case <-ctx.Done():
			return exception.Wrap(exception.KindNotAvailable, ctx.Err(), "waiting for %s", o.cfg.Name)
		}
	}
}

// =============================================================================
// Task Queue
// =============================================================================

// Enqueue appends task to the FIFO queue.
//
// Returns InvalidState if the Object was not started yet, has stopped or
// failed.
func (o *Object[D]) Enqueue(task Task[D]) (*Pending, error) {
	if task.Run == nil {
		return nil, exception.InvalidArgument("task %s of %s has no function", task.Name, o.cfg.Name)
	}

	o.mu.Lock()
	if !o.accepting {
		state := o.state
		o.mu.Unlock()
		return nil, exception.InvalidState("%s does not accept tasks while %s", o.cfg.Name, state)
	}
	p := newPending(task.Name)
	o.queue = append(o.queue, &queuedTask[D]{task: task, pending: p})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return p, nil
}

// Call enqueues fn and waits for its completion.
func (o *Object[D]) Call(ctx context.Context, name string, fn HandlerFunc[D]) error {
	p, err := o.Enqueue(Task[D]{Name: name, Run: fn})
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

func (o *Object[D]) popTask() *queuedTask[D] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	q := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return q
}

// =============================================================================
// Worker
// =============================================================================

// Start launches the worker goroutine. The first thing it does is Init.
//
// ctx only provides values such as trace spans; the worker is ended by
// Stop, not by ctx cancellation.
func (o *Object[D]) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return exception.InvalidState("%s already started", o.cfg.Name)
	}
	o.started = true
	o.accepting = true
	o.setStateLocked(StateInitializing)
	o.mu.Unlock()

	wctx := lockable.WithNewOwner(context.WithoutCancel(ctx))
	util.SafeGo(func() { o.run(wctx) }, func(p util.PanicInfo) {
		// Handler panics are recovered in execute; this is the loop itself.
		o.fail(exception.New(exception.KindInvalidState, "worker of %s panicked: %v", o.cfg.Name, p.Value).
			WithSeverity(exception.SeverityFatal))
		o.shutdown(wctx)
		close(o.done)
	})
	return nil
}

func (o *Object[D]) run(ctx context.Context) {
	o.logger.Debug("worker started")

	if err := o.initialize(ctx); err != nil {
		o.fail(err)
		o.shutdown(ctx)
		close(o.done)
		return
	}
	o.setState(StateReady)
	o.logger.Info("object ready")

	ticker := time.NewTicker(o.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		if !o.drain(ctx) {
			o.shutdown(ctx)
			close(o.done)
			return
		}

		select {
		case <-o.stopCh:
			o.mu.Lock()
			o.accepting = false
			o.mu.Unlock()
			if o.drain(ctx) {
				o.setState(StateExiting)
			}
			o.shutdown(ctx)
			close(o.done)
			return
		case <-o.wake:
		case <-ticker.C:
			if !o.update(ctx) {
				o.shutdown(ctx)
				close(o.done)
				return
			}
		}
	}
}

// drain executes queued tasks until the queue is empty. It returns false
// if a task moved the Object into StateError.
func (o *Object[D]) drain(ctx context.Context) bool {
	for {
		q := o.popTask()
		if q == nil {
			return true
		}
		if err := o.execute(ctx, q); err != nil && !exception.IsRecoverable(err) {
			o.fail(err)
			return false
		}
	}
}

func (o *Object[D]) execute(ctx context.Context, q *queuedTask[D]) error {
	name := q.task.Name
	start := time.Now()

	ctx, span := tracer.Start(ctx, "object.Task", trace.WithAttributes(
		attribute.String("object", o.cfg.Name),
		attribute.String("task", name),
	))
	defer span.End()

	err := o.withData(ctx, name, q.task.Run)
	recoverable := exception.IsRecoverable(err)

	taskDuration.WithLabelValues(o.cfg.Name, name).Observe(time.Since(start).Seconds())
	tasksTotal.WithLabelValues(o.cfg.Name, name, taskResult(err, recoverable)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if recoverable {
			o.warning.Set(err)
			o.logger.LogError(err, "task", name)
		}
	}

	q.pending.complete(err)
	if cb := q.task.Callback; cb != nil {
		func() {
			defer util.RecoverPanic(func(p util.PanicInfo) {
				o.logger.Warn("task callback panicked", "task", name, "panic", fmt.Sprint(p.Value))
			})()
			cb(err)
		}()
	}
	return err
}

// withData locks the data and runs fn. Panics in fn become Fatal errors.
func (o *Object[D]) withData(ctx context.Context, what string, fn HandlerFunc[D]) (err error) {
	defer util.RecoverPanic(func(p util.PanicInfo) {
		err = exception.New(exception.KindInvalidState, "%s of %s panicked: %v", what, o.cfg.Name, p.Value).
			WithSeverity(exception.SeverityFatal)
		o.logger.Error("handler panicked", "handler", what, "stack", p.Stack)
	})()

	l, err := o.data.Lock(ctx, o.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn(ctx, l)
}

func (o *Object[D]) initialize(ctx context.Context) error {
	for _, link := range o.links {
		if err := link.acquire(ctx, o.cfg.Name, o.cfg.LinkTimeout); err != nil {
			return err
		}
	}
	return o.withData(ctx, "Init", func(ctx context.Context, data *lockable.Locked[D]) error {
		for _, layer := range o.layers {
			if layer.Init == nil {
				continue
			}
			if err := layer.Init(ctx, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// update runs the Update step. It returns false if the Object failed.
func (o *Object[D]) update(ctx context.Context) bool {
	err := o.withData(ctx, "Update", func(ctx context.Context, data *lockable.Locked[D]) error {
		for _, layer := range o.layers {
			if layer.Update == nil {
				continue
			}
			if err := layer.Update(ctx, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		o.updateFailures = 0
		return true
	}

	updateFailuresTotal.WithLabelValues(o.cfg.Name).Inc()
	if !exception.IsRecoverable(err) {
		o.escalate(err, o.updateFailures+1)
		o.fail(err)
		return false
	}

	o.updateFailures++
	if o.updateFailures > MaxSilentUpdateFailures {
		o.escalate(err, o.updateFailures)
	}
	return true
}

func (o *Object[D]) escalate(err error, consecutive int) {
	o.escalations.Add(1)
	updateEscalationsTotal.WithLabelValues(o.cfg.Name).Inc()
	if !exception.IsRecoverable(err) {
		return
	}
	o.warning.Set(err)
	if o.escalateLog.Allow() {
		o.logger.LogError(err, "consecutive_failures", consecutive)
	}
}

// fail moves the Object into StateError and fails every queued task.
func (o *Object[D]) fail(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.accepting = false
	queued := o.queue
	o.queue = nil
	o.setStateLocked(StateError)
	o.mu.Unlock()

	for _, q := range queued {
		q.pending.complete(err)
		if cb := q.task.Callback; cb != nil {
			func() {
				defer util.RecoverPanic(nil)()
				cb(err)
			}()
		}
	}
	o.logger.LogError(err)
}

// shutdown runs the Exit handlers in reverse order and releases links.
// Every error is swallowed.
func (o *Object[D]) shutdown(ctx context.Context) {
	err := o.withData(ctx, "Exit", func(ctx context.Context, data *lockable.Locked[D]) error {
		for i := len(o.layers) - 1; i >= 0; i-- {
			layer := o.layers[i]
			if layer.Exit == nil {
				continue
			}
			func() {
				defer util.RecoverPanic(func(p util.PanicInfo) {
					o.logger.Debug("exit handler panicked", "layer", layer.Name, "panic", fmt.Sprint(p.Value))
				})()
				if err := layer.Exit(ctx, data); err != nil {
					o.logger.Debug("exit handler failed", "layer", layer.Name, "error", err.Error())
				}
			}()
		}
		return nil
	})
	if err != nil {
		o.logger.Debug("exit skipped", "error", err.Error())
	}

	for i := len(o.links) - 1; i >= 0; i-- {
		o.links[i].release(o.cfg.Name)
	}

	o.mu.Lock()
	if o.state != StateError {
		o.setStateLocked(StateStopped)
	}
	o.mu.Unlock()
	o.logger.Debug("worker stopped")
}

// Stop ends the worker. Tasks already queued still run, then Exit.
//
// # Outputs
//
//   - nil once the worker finished or if it was never started.
//   - ThreadUnresponsive if the worker did not finish within StopTimeout.
//   - NotAvailable if ctx ended first.
func (o *Object[D]) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.accepting = false
		o.setStateLocked(StateStopped)
		o.mu.Unlock()
		return nil
	}
	users := o.useCountLocked()
	o.mu.Unlock()

	if users > 0 {
		o.logger.Warn("stopping object still in use", "use_count", users)
	}
	o.stopOnce.Do(func() { close(o.stopCh) })

	t := time.NewTimer(o.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-o.done:
		return nil
	case <-t.C:
		err := exception.ThreadUnresponsive("worker of %s did not stop within %s", o.cfg.Name, o.cfg.StopTimeout)
		o.logger.LogError(err)
		return err
	case <-ctx.Done():
		return exception.Wrap(exception.KindNotAvailable, ctx.Err(), "stopping %s", o.cfg.Name)
	}
}

// Done is closed when the worker has finished.
func (o *Object[D]) Done() <-chan struct{} {
	return o.done
}

var _ Runnable = (*Object[struct{}])(nil)
