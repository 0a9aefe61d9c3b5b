// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grpcbridge

import (
	"fmt"
	"sync"
	"time"
)

// Tag identifies a call slot. Generation distinguishes successive calls
// occupying the same slot.
type Tag struct {
	Slot       uint32
	Generation uint32
}

// String returns "slot/generation".
func (t Tag) String() string {
	return fmt.Sprintf("%d/%d", t.Slot, t.Generation)
}

// Event is a completion of an operation started by the call with Tag.
// OK is false if the operation did not complete, e.g. at shutdown.
type Event struct {
	Tag Tag
	OK  bool
}

// NextStatus is the outcome of CompletionQueue.Next.
type NextStatus int

const (
	// GotEvent means an event was returned.
	GotEvent NextStatus = iota

	// Timeout means no event arrived in time.
	Timeout

	// Shutdown means the queue was shut down and is drained.
	Shutdown
)

// String returns the status name.
func (s NextStatus) String() string {
	switch s {
	case GotEvent:
		return "got_event"
	case Timeout:
		return "timeout"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// CompletionQueue delivers events in the order they were posted.
//
// After Shutdown no further events are accepted; events posted before are
// still returned by Next, then Next reports Shutdown.
//
// Thread Safety: Safe for concurrent use.
type CompletionQueue struct {
	mu       sync.Mutex
	events   []Event
	shutdown bool
	notify   chan struct{}
	done     chan struct{}
}

// NewCompletionQueue creates an empty queue.
func NewCompletionQueue() *CompletionQueue {
	return &CompletionQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post appends ev. Returns false if the queue is shut down.
func (q *CompletionQueue) Post(ev Event) bool {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return false
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Next waits up to timeout for an event. A timeout <= 0 polls without
// waiting.
func (q *CompletionQueue) Next(timeout time.Duration) (Event, NextStatus) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, GotEvent
		}
		shutdown := q.shutdown
		q.mu.Unlock()

		if shutdown {
			return Event{}, Shutdown
		}
		if expired == nil {
			return Event{}, Timeout
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-expired:
			return Event{}, Timeout
		}
	}
}

// Shutdown stops accepting events. Safe to call more than once.
func (q *CompletionQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.shutdown = true
	close(q.done)
}

// Len returns the number of undelivered events.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
