// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Ring Buffer Tests
// =============================================================================

func TestNewRingBuffer(t *testing.T) {
	buffer := NewRingBuffer[int](10)

	if buffer.Capacity() != 10 {
		t.Errorf("Capacity() = %d, want 10", buffer.Capacity())
	}
	if buffer.Size() != 0 {
		t.Errorf("Size() = %d, want 0", buffer.Size())
	}
	if buffer.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d, want 0", buffer.DroppedCount())
	}
}

func TestNewRingBuffer_PanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRingBuffer(0) should panic")
		}
	}()
	NewRingBuffer[int](0)
}

func TestRingBuffer_DropsOldest(t *testing.T) {
	buffer := NewRingBuffer[int](3)

	for i := 1; i <= 3; i++ {
		if buffer.Push(i) {
			t.Fatalf("Push(%d) dropped an item before the buffer was full", i)
		}
	}
	if !buffer.Push(4) {
		t.Fatal("Push(4) should report a dropped item")
	}

	got := buffer.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if buffer.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", buffer.DroppedCount())
	}

	last, ok := buffer.Last()
	if !ok || last != 4 {
		t.Errorf("Last() = %d, %v, want 4, true", last, ok)
	}
}

func TestRingBuffer_PopAndClear(t *testing.T) {
	buffer := NewRingBuffer[string](2)
	buffer.Push("a")
	buffer.Push("b")

	item, ok := buffer.Pop()
	if !ok || item != "a" {
		t.Errorf("Pop() = %q, %v, want \"a\", true", item, ok)
	}

	buffer.Push("c")
	buffer.Push("d")
	buffer.Clear()

	if buffer.Size() != 0 || buffer.DroppedCount() != 0 {
		t.Errorf("after Clear: Size() = %d, DroppedCount() = %d", buffer.Size(), buffer.DroppedCount())
	}
	if _, ok := buffer.Pop(); ok {
		t.Error("Pop() on empty buffer should return false")
	}
	if _, ok := buffer.Last(); ok {
		t.Error("Last() on empty buffer should return false")
	}
}

func TestRingBuffer_ConcurrentPush(t *testing.T) {
	buffer := NewRingBuffer[int](50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buffer.Push(g*100 + i)
			}
		}(g)
	}
	wg.Wait()

	if buffer.Size() != 50 {
		t.Errorf("Size() = %d, want 50", buffer.Size())
	}
	if buffer.DroppedCount() != 750 {
		t.Errorf("DroppedCount() = %d, want 750", buffer.DroppedCount())
	}
}

// =============================================================================
// Goroutine Tests
// =============================================================================

func TestSafeGo_RecoversPanic(t *testing.T) {
	got := make(chan PanicInfo, 1)
	SafeGo(func() { panic("boom") }, func(p PanicInfo) { got <- p })

	select {
	case p := <-got:
		if p.Value != "boom" {
			t.Errorf("Value = %v, want boom", p.Value)
		}
		if p.Stack == "" {
			t.Error("Stack should not be empty")
		}
		if p.Error() != "panic: boom" {
			t.Errorf("Error() = %q", p.Error())
		}
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestRecoverPanic_NilHandler(t *testing.T) {
	func() {
		defer RecoverPanic(nil)()
		panic("ignored")
	}()
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestEnforceMinTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		min     time.Duration
		want    time.Duration
	}{
		{"zero raised", 0, time.Second, time.Second},
		{"below raised", time.Millisecond, time.Second, time.Second},
		{"above kept", 5 * time.Second, time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceMinTimeout(tt.timeout, tt.min); got != tt.want {
				t.Errorf("EnforceMinTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultIfZero(t *testing.T) {
	if got := DefaultIfZero(0, DefaultLockTimeout); got != DefaultLockTimeout {
		t.Errorf("DefaultIfZero(0) = %v", got)
	}
	if got := DefaultIfZero(-time.Second, time.Minute); got != time.Minute {
		t.Errorf("DefaultIfZero(-1s) = %v", got)
	}
	if got := DefaultIfZero(time.Second, time.Minute); got != time.Second {
		t.Errorf("DefaultIfZero(1s) = %v", got)
	}
}
