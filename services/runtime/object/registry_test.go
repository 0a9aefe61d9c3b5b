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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
	"github.com/AleutianAI/dynexp/services/runtime/lockable"
)

type otherData struct{}

func TestRegistry_AddGet(t *testing.T) {
	reg := NewRegistry()
	a := newTestObject(t, "a", Config{})
	b := newTestObject(t, "b", Config{})

	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))
	assert.True(t, errors.Is(reg.Add(newTestObject(t, "a", Config{})), exception.ErrInvalidArgument))
	assert.True(t, errors.Is(reg.Add(nil), exception.ErrInvalidArgument))

	got, ok := reg.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = reg.Get("missing")
	assert.False(t, ok)

	names := []string{}
	for _, obj := range reg.Objects() {
		names = append(names, obj.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestLink_LocksTargetWhileUserRuns(t *testing.T) {
	reg := NewRegistry()
	adapter := newTestObject(t, "adapter", Config{Category: CategoryHardwareAdapter})
	instrument := newTestObject(t, "instrument", Config{Category: CategoryInstrument})

	link := NewLink[*Object[testData]](reg, "adapter")
	require.NoError(t, instrument.Uses(link))
	require.NoError(t, instrument.AddLayer(Layer[testData]{Name: "use", Init: func(ctx context.Context, d *lockable.Locked[testData]) error {
		hw, err := link.Get()
		if err != nil {
			return err
		}
		d.Get().trace = append(d.Get().trace, "linked "+hw.Name())
		return nil
	}}))

	_, err := link.Get()
	assert.True(t, errors.Is(err, exception.ErrLinkedObjectNotLocked))

	require.NoError(t, reg.Add(adapter))
	require.NoError(t, reg.Add(instrument))
	require.NoError(t, reg.Start(context.Background(), time.Second))

	assert.Equal(t, 1, adapter.UseCount())
	assert.Equal(t, []string{"linked adapter"}, traceOf(t, instrument))
	assert.NoError(t, link.Check())

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "ready", snapshot[0].State)
	assert.Equal(t, 1, snapshot[0].UseCount)

	require.NoError(t, reg.Stop(context.Background()))
	assert.Equal(t, 0, adapter.UseCount())
	assert.Equal(t, StateStopped, adapter.State())
	_, err = link.Get()
	assert.True(t, errors.Is(err, exception.ErrLinkedObjectNotLocked))
}

func TestRegistry_StopsUsersBeforeTheirTargets(t *testing.T) {
	reg := NewRegistry()
	instrument := newTestObject(t, "instrument", Config{Category: CategoryInstrument})
	adapter := newTestObject(t, "adapter", Config{Category: CategoryHardwareAdapter})
	require.NoError(t, instrument.Uses(NewLink[*Object[testData]](reg, "adapter")))

	var adapterAtExit State
	require.NoError(t, instrument.AddLayer(Layer[testData]{Name: "use", Exit: func(context.Context, *lockable.Locked[testData]) error {
		adapterAtExit = adapter.State()
		return nil
	}}))

	// The user is added first, so insertion order alone would stop the
	// adapter before the instrument.
	require.NoError(t, reg.Add(instrument))
	require.NoError(t, reg.Add(adapter))
	require.NoError(t, reg.Start(context.Background(), time.Second))
	require.NoError(t, reg.Stop(context.Background()))

	assert.Equal(t, StateReady, adapterAtExit)
	assert.Equal(t, StateStopped, adapter.State())
	assert.Equal(t, 0, adapter.UseCount())
}

func TestStopOrder(t *testing.T) {
	reg := NewRegistry()
	hw := newTestObject(t, "hw", Config{})
	inst := newTestObject(t, "inst", Config{})
	server := newTestObject(t, "server", Config{})
	loner := newTestObject(t, "loner", Config{})
	require.NoError(t, inst.Uses(NewLink[*Object[testData]](reg, "hw")))
	require.NoError(t, server.Uses(NewLink[*Object[testData]](reg, "inst"), NewLink[*Object[testData]](reg, "elsewhere")))

	names := func(objs []Runnable) []string {
		out := make([]string, 0, len(objs))
		for _, o := range objs {
			out = append(out, o.Name())
		}
		return out
	}

	tests := []struct {
		name string
		in   []Runnable
		want []string
	}{
		{"dependencies first", []Runnable{hw, inst, server}, []string{"server", "inst", "hw"}},
		{"users first", []Runnable{server, inst, hw}, []string{"server", "inst", "hw"}},
		{"mixed", []Runnable{inst, loner, server, hw}, []string{"server", "loner", "inst", "hw"}},
		{"no links", []Runnable{hw, loner}, []string{"loner", "hw"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(StopOrder(tt.in)))
		})
	}
}

func TestLink_CheckForwardsTargetFailure(t *testing.T) {
	reg := NewRegistry()
	adapter := newTestObject(t, "adapter", Config{})
	instrument := newTestObject(t, "instrument", Config{})
	link := NewLink[*Object[testData]](reg, "adapter")
	require.NoError(t, instrument.Uses(link))
	require.NoError(t, reg.Add(adapter))
	require.NoError(t, reg.Add(instrument))
	require.NoError(t, reg.Start(context.Background(), time.Second))
	t.Cleanup(func() { _ = reg.Stop(context.Background()) })

	_ = adapter.Call(context.Background(), "break", func(context.Context, *lockable.Locked[testData]) error {
		return exception.InvalidState("cable unplugged")
	})
	<-adapter.Done()

	err := link.Check()
	require.Error(t, err)
	assert.True(t, exception.IsForwarded(err))
	assert.True(t, errors.Is(err, exception.ErrInvalidState))
	e, _ := exception.As(err)
	assert.Equal(t, "adapter", e.Origin)
}

func TestLink_InvalidTargets(t *testing.T) {
	tests := []struct {
		name  string
		setup func(reg *Registry) Linker
	}{
		{"unknown object", func(reg *Registry) Linker {
			return NewLink[*Object[testData]](reg, "ghost")
		}},
		{"wrong type", func(reg *Registry) Linker {
			other, err := New(Config{Name: "other", Logger: quietLogger(t)}, otherData{})
			require.NoError(t, err)
			require.NoError(t, reg.Add(other))
			return NewLink[*Object[testData]](reg, "other")
		}},
		{"no registry", func(reg *Registry) Linker {
			return NewLink[*Object[testData]](nil, "x")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			user := newTestObject(t, "user", Config{})
			require.NoError(t, user.Uses(tt.setup(reg)))
			require.NoError(t, user.Start(context.Background()))

			err := user.WaitReady(context.Background(), time.Second)
			assert.True(t, errors.Is(err, exception.ErrInvalidObjectLink))
			assert.Equal(t, StateError, user.State())
		})
	}
}

func TestLink_TargetNotReady(t *testing.T) {
	reg := NewRegistry()
	adapter := newTestObject(t, "slow-adapter", Config{})
	require.NoError(t, reg.Add(adapter))

	user := newTestObject(t, "user", Config{LinkTimeout: 20 * time.Millisecond})
	require.NoError(t, user.Uses(NewLink[*Object[testData]](reg, "slow-adapter")))
	require.NoError(t, user.Start(context.Background()))

	err := user.WaitReady(context.Background(), time.Second)
	assert.True(t, errors.Is(err, exception.ErrTimeout))
	assert.Zero(t, adapter.UseCount())
}

func TestObject_LockObjectRefusedWhenStopped(t *testing.T) {
	o := newTestObject(t, "gone", Config{})
	require.NoError(t, o.Stop(context.Background()))
	assert.True(t, errors.Is(o.LockObject("user"), exception.ErrNotAvailable))

	running := newTestObject(t, "counted", Config{})
	startTestObject(t, running)
	require.NoError(t, running.LockObject("a"))
	require.NoError(t, running.LockObject("a"))
	require.NoError(t, running.LockObject("b"))
	assert.Equal(t, 3, running.UseCount())
	running.UnlockObject("a")
	running.UnlockObject("unknown")
	assert.Equal(t, 2, running.UseCount())
}

func TestRegistry_StartReportsFailure(t *testing.T) {
	reg := NewRegistry()
	bad := newTestObject(t, "bad", Config{})
	require.NoError(t, bad.AddLayer(Layer[testData]{Name: "base", Init: func(context.Context, *lockable.Locked[testData]) error {
		return exception.FileIO(errors.New("no such file"), "loading calibration")
	}}))
	require.NoError(t, reg.Add(newTestObject(t, "good", Config{})))
	require.NoError(t, reg.Add(bad))

	err := reg.Start(context.Background(), time.Second)
	assert.True(t, errors.Is(err, exception.ErrFileIO))
	assert.NoError(t, reg.Stop(context.Background()))
}
