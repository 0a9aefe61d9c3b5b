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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/pkg/logging"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
)

type testData struct {
	trace []string
	value int
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l := logging.New(logging.Config{Quiet: true, Level: logging.LevelDebug})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newTestObject(t *testing.T, name string, cfg Config) *Object[testData] {
	t.Helper()
	cfg.Name = name
	if cfg.Logger == nil {
		cfg.Logger = quietLogger(t)
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = time.Hour
	}
	o, err := New(cfg, testData{})
	require.NoError(t, err)
	return o
}

func startTestObject(t *testing.T, o *Object[testData]) {
	t.Helper()
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.WaitReady(context.Background(), time.Second))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
}

func traceOf(t *testing.T, o *Object[testData]) []string {
	t.Helper()
	var out []string
	err := o.Data().With(lockable.WithOwner(context.Background()), time.Second, func(d *testData) error {
		out = append(out, d.trace...)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestNew_RequiresName(t *testing.T) {
	_, err := New(Config{}, testData{})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestCategory_RoundTrip(t *testing.T) {
	for _, c := range []Category{CategoryHardwareAdapter, CategoryInstrument, CategoryModule} {
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("gadget")
	assert.Error(t, err)
}

func TestObject_TasksRunInFIFOOrder(t *testing.T) {
	o := newTestObject(t, "fifo", Config{})
	startTestObject(t, o)

	const n = 50
	var callbacks atomic.Int32
	var last *Pending
	for i := 0; i < n; i++ {
		p, err := o.Enqueue(Task[testData]{
			Name: "append",
			Run: func(ctx context.Context, d *lockable.Locked[testData]) error {
				d.Get().trace = append(d.Get().trace, fmt.Sprint(i))
				return nil
			},
			Callback: func(err error) { callbacks.Add(1) },
		})
		require.NoError(t, err)
		last = p
	}
	require.NoError(t, last.Wait(context.Background()))

	trace := traceOf(t, o)
	require.Len(t, trace, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprint(i), trace[i])
	}
	assert.Equal(t, int32(n), callbacks.Load())
}

func TestObject_EnqueueRejectedOutsideLifetime(t *testing.T) {
	o := newTestObject(t, "lifetime", Config{})
	noop := Task[testData]{Name: "noop", Run: func(context.Context, *lockable.Locked[testData]) error { return nil }}

	_, err := o.Enqueue(noop)
	assert.True(t, errors.Is(err, exception.ErrInvalidState), "before start")

	require.NoError(t, o.Start(context.Background()))
	p, err := o.Enqueue(noop)
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())
	_, err = o.Enqueue(noop)
	assert.True(t, errors.Is(err, exception.ErrInvalidState), "after stop")

	_, err = o.Enqueue(Task[testData]{Name: "nil"})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestObject_StartTwice(t *testing.T) {
	o := newTestObject(t, "twice", Config{})
	startTestObject(t, o)
	assert.True(t, errors.Is(o.Start(context.Background()), exception.ErrInvalidState))
}

func TestObject_LayersInitInOrderExitReversed(t *testing.T) {
	o := newTestObject(t, "layered", Config{})
	record := func(what string) HandlerFunc[testData] {
		return func(ctx context.Context, d *lockable.Locked[testData]) error {
			d.Get().trace = append(d.Get().trace, what)
			return nil
		}
	}
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "base", Init: record("init base"), Exit: record("exit base")}))
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "datastream", Init: record("init datastream")}))
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "derived", Init: record("init derived"), Exit: record("exit derived")}))

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.WaitReady(context.Background(), time.Second))
	assert.Error(t, o.AddLayer(Layer[testData]{Name: "late"}))
	require.NoError(t, o.Stop(context.Background()))

	assert.Equal(t, []string{
		"init base", "init datastream", "init derived",
		"exit derived", "exit base",
	}, traceOf(t, o))
}

func TestObject_ExitErrorsAreSwallowed(t *testing.T) {
	o := newTestObject(t, "exit-errors", Config{})
	var ran atomic.Int32
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "base", Exit: func(context.Context, *lockable.Locked[testData]) error {
		ran.Add(1)
		return nil
	}}))
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "panics", Exit: func(context.Context, *lockable.Locked[testData]) error {
		ran.Add(1)
		panic("exit exploded")
	}}))
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "fails", Exit: func(context.Context, *lockable.Locked[testData]) error {
		ran.Add(1)
		return exception.InvalidState("device gone")
	}}))
	startTestObject(t, o)

	assert.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, StateStopped, o.State())
	assert.NoError(t, o.Err())
}

func TestObject_RecoverableTaskErrorBecomesWarning(t *testing.T) {
	o := newTestObject(t, "warned", Config{})
	startTestObject(t, o)

	err := o.Call(context.Background(), "flaky", func(context.Context, *lockable.Locked[testData]) error {
		return exception.Timeout("device did not answer")
	})
	assert.True(t, errors.Is(err, exception.ErrTimeout))

	w, ok := o.Warning().Snapshot()
	require.True(t, ok)
	assert.Equal(t, exception.KindTimeout, w.Kind)
	assert.Equal(t, StateReady, o.State())

	require.NoError(t, o.Call(context.Background(), "next", func(ctx context.Context, d *lockable.Locked[testData]) error {
		d.Get().value = 7
		return nil
	}))
}

func TestObject_FatalTaskErrorFailsQueuedTasks(t *testing.T) {
	o := newTestObject(t, "failing", Config{})
	var exited atomic.Bool
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "base", Exit: func(context.Context, *lockable.Locked[testData]) error {
		exited.Store(true)
		return nil
	}}))
	startTestObject(t, o)

	release := make(chan struct{})
	blocker, err := o.Enqueue(Task[testData]{Name: "block", Run: func(context.Context, *lockable.Locked[testData]) error {
		<-release
		return nil
	}})
	require.NoError(t, err)
	failing, err := o.Enqueue(Task[testData]{Name: "fail", Run: func(context.Context, *lockable.Locked[testData]) error {
		return exception.InvalidData("sensor returned garbage")
	}})
	require.NoError(t, err)

	var followerErr error
	var followerCalled sync.WaitGroup
	followerCalled.Add(1)
	follower, err := o.Enqueue(Task[testData]{
		Name: "follow",
		Run: func(context.Context, *lockable.Locked[testData]) error {
			t.Error("follower must not run")
			return nil
		},
		Callback: func(err error) {
			followerErr = err
			followerCalled.Done()
		},
	})
	require.NoError(t, err)
	close(release)

	require.NoError(t, blocker.Wait(context.Background()))
	assert.True(t, errors.Is(failing.Wait(context.Background()), exception.ErrInvalidData))
	assert.True(t, errors.Is(follower.Wait(context.Background()), exception.ErrInvalidData))
	followerCalled.Wait()
	assert.True(t, errors.Is(followerErr, exception.ErrInvalidData))

	<-o.Done()
	assert.Equal(t, StateError, o.State())
	assert.True(t, errors.Is(o.Err(), exception.ErrInvalidData))
	assert.True(t, exited.Load(), "exit runs after a failure")

	_, err = o.Enqueue(Task[testData]{Name: "late", Run: func(context.Context, *lockable.Locked[testData]) error { return nil }})
	assert.True(t, errors.Is(err, exception.ErrInvalidState))
	assert.NoError(t, o.Stop(context.Background()))
}

func TestObject_TaskPanicIsFatal(t *testing.T) {
	o := newTestObject(t, "panicky", Config{})
	startTestObject(t, o)

	err := o.Call(context.Background(), "boom", func(context.Context, *lockable.Locked[testData]) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, exception.SeverityFatal, exception.SeverityOf(err))

	<-o.Done()
	assert.Equal(t, StateError, o.State())
}

func TestObject_UpdateFailureTolerance(t *testing.T) {
	tests := []struct {
		failures        int
		wantEscalations uint64
	}{
		{1, 0},
		{2, 0},
		{3, 0},
		{4, 1},
		{6, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d failures", tt.failures), func(t *testing.T) {
			o := newTestObject(t, fmt.Sprintf("update-%d", tt.failures), Config{UpdateInterval: time.Millisecond})
			var calls atomic.Int32
			require.NoError(t, o.AddLayer(Layer[testData]{Name: "poll", Update: func(context.Context, *lockable.Locked[testData]) error {
				if int(calls.Add(1)) <= tt.failures {
					return exception.Timeout("poll timed out")
				}
				return nil
			}}))
			startTestObject(t, o)

			require.Eventually(t, func() bool {
				return int(calls.Load()) > tt.failures+1
			}, 2*time.Second, time.Millisecond)

			assert.Equal(t, tt.wantEscalations, o.Escalations())
			_, warned := o.Warning().Snapshot()
			assert.Equal(t, tt.wantEscalations > 0, warned)
			assert.Equal(t, StateReady, o.State())
		})
	}
}

func TestObject_UpdateCounterResetsOnSuccess(t *testing.T) {
	o := newTestObject(t, "reset", Config{UpdateInterval: time.Millisecond})
	// fail, fail, fail, ok, fail, fail, fail, ok, ...
	var calls atomic.Int32
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "poll", Update: func(context.Context, *lockable.Locked[testData]) error {
		if calls.Add(1)%4 != 0 {
			return exception.NotAvailable("busy")
		}
		return nil
	}}))
	startTestObject(t, o)

	require.Eventually(t, func() bool { return calls.Load() > 20 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, o.Escalations())
}

func TestObject_NonRecoverableUpdateFailure(t *testing.T) {
	o := newTestObject(t, "broken", Config{UpdateInterval: time.Millisecond})
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "poll", Update: func(context.Context, *lockable.Locked[testData]) error {
		return exception.InvalidData("impossible reading")
	}}))
	startTestObject(t, o)

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("object did not stop")
	}
	assert.Equal(t, StateError, o.State())
	assert.Equal(t, uint64(1), o.Escalations())
	assert.True(t, errors.Is(o.Err(), exception.ErrInvalidData))
}

func TestObject_InitFailure(t *testing.T) {
	o := newTestObject(t, "no-device", Config{})
	require.NoError(t, o.AddLayer(Layer[testData]{Name: "base", Init: func(context.Context, *lockable.Locked[testData]) error {
		return exception.NotAvailable("device not connected")
	}}))
	require.NoError(t, o.Start(context.Background()))

	err := o.WaitReady(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, exception.IsForwarded(err))
	assert.True(t, errors.Is(err, exception.ErrNotAvailable))
	assert.Equal(t, StateError, o.State())
}

func TestObject_TasksLockReentrantly(t *testing.T) {
	o := newTestObject(t, "reentrant", Config{LockTimeout: 50 * time.Millisecond})
	startTestObject(t, o)

	err := o.Call(context.Background(), "nested", func(ctx context.Context, d *lockable.Locked[testData]) error {
		inner, err := o.Data().Lock(ctx, 10*time.Millisecond)
		if err != nil {
			return err
		}
		defer inner.Unlock()
		inner.Get().value++
		return nil
	})
	assert.NoError(t, err)
}

func TestObject_TaskLockTimeoutIsWarning(t *testing.T) {
	o := newTestObject(t, "contended", Config{LockTimeout: 20 * time.Millisecond})
	startTestObject(t, o)

	held, err := o.Data().Lock(lockable.WithOwner(context.Background()), time.Second)
	require.NoError(t, err)
	defer held.Unlock()

	err = o.Call(context.Background(), "starved", func(context.Context, *lockable.Locked[testData]) error { return nil })
	assert.True(t, errors.Is(err, exception.ErrTimeout))
	assert.Equal(t, StateReady, o.State())
}

func TestObject_StopUnresponsive(t *testing.T) {
	o := newTestObject(t, "stuck", Config{StopTimeout: 30 * time.Millisecond})
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.WaitReady(context.Background(), time.Second))

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := o.Enqueue(Task[testData]{Name: "hang", Run: func(context.Context, *lockable.Locked[testData]) error {
		close(started)
		<-release
		return nil
	}})
	require.NoError(t, err)
	<-started

	err = o.Stop(context.Background())
	assert.True(t, errors.Is(err, exception.ErrThreadUnresponsive))

	close(release)
	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())
}

func TestObject_QueuedTasksRunBeforeExit(t *testing.T) {
	o := newTestObject(t, "draining", Config{})
	startTestObject(t, o)

	release := make(chan struct{})
	_, err := o.Enqueue(Task[testData]{Name: "block", Run: func(context.Context, *lockable.Locked[testData]) error {
		<-release
		return nil
	}})
	require.NoError(t, err)
	queued, err := o.Enqueue(Task[testData]{Name: "queued", Run: func(ctx context.Context, d *lockable.Locked[testData]) error {
		d.Get().value = 42
		return nil
	}})
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() { stopped <- o.Stop(context.Background()) }()
	close(release)

	require.NoError(t, <-stopped)
	assert.NoError(t, queued.Err())
	select {
	case <-queued.Done():
	default:
		t.Fatal("queued task did not complete")
	}
}

func TestPending_WaitTimeout(t *testing.T) {
	p := newPending("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(p.Wait(ctx), exception.ErrTimeout))

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	assert.True(t, errors.Is(p.Wait(cctx), exception.ErrNotAvailable))

	p.complete(nil)
	p.complete(errors.New("ignored"))
	assert.NoError(t, p.Wait(context.Background()))
}

func TestObject_Info(t *testing.T) {
	o := newTestObject(t, "described", Config{Category: CategoryInstrument})
	startTestObject(t, o)
	o.Warning().Set(exception.Timeout("slow"))

	info := o.Info()
	assert.Equal(t, "described", info.Name)
	assert.Equal(t, "instrument", info.Category)
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, "slow", info.Warning)
	assert.Empty(t, info.Error)
	assert.Equal(t, o.ID().String(), info.ID)
}
