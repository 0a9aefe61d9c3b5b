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
	"sync/atomic"
)

// RingBuffer is a bounded FIFO that drops its oldest item when full.
//
// # Description
//
// Used wherever the runtime keeps "the last N of something" without ever
// blocking the producer: recent event log entries, recent warnings of an
// Object. Dropped items are counted.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	tail     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding at most capacity items.
//
// Panics if capacity is not positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}

	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item, evicting the oldest one if the buffer is full.
// Returns true if an item was evicted.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.size == r.capacity {
		var zero T
		r.buffer[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		dropped = true
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++

	return dropped
}

// Pop removes and returns the oldest item.
func (r *RingBuffer[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.buffer[r.head]
	r.buffer[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.size--

	return item, true
}

// Last returns the newest item without removing it.
func (r *RingBuffer[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buffer[(r.tail-1+r.capacity)%r.capacity], true
}

// Snapshot returns a copy of all items, oldest first, without removing them.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.buffer[(r.head+i)%r.capacity]
	}
	return result
}

// Size returns the number of stored items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of stored items.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// DroppedCount returns how many items were evicted since creation or the last Clear.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear removes all items and resets the dropped counter.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
	atomic.StoreInt64(&r.dropped, 0)
}
