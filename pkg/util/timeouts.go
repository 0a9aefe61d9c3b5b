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

import "time"

const (
	// DefaultLockTimeout bounds acquisition of an Object's data lock.
	DefaultLockTimeout = 1 * time.Second

	// ShortLockTimeout is used by readers that must not stall, such as the
	// status surface.
	ShortLockTimeout = 100 * time.Millisecond

	// DefaultCallTimeout is the deadline of a unary RPC.
	DefaultCallTimeout = 1 * time.Second

	// LongCallTimeout is the deadline of RPCs that move sample data.
	LongCallTimeout = 2 * time.Second

	// ServerPollInterval is how long the server main loop waits for a
	// completion queue event before checking for shutdown.
	ServerPollInterval = 80 * time.Millisecond

	// DefaultUpdateInterval is the cadence of an Object's Update step.
	DefaultUpdateInterval = 100 * time.Millisecond

	// MinUpdateInterval prevents busy loops from zero update intervals.
	MinUpdateInterval = 1 * time.Millisecond

	// DefaultStopTimeout bounds how long Stop waits for a worker to exit.
	DefaultStopTimeout = 5 * time.Second
)

// EnforceMinTimeout returns timeout, raised to min if it is below it.
//
// # Examples
//
//	EnforceMinTimeout(0, time.Second)             // 1s
//	EnforceMinTimeout(5*time.Second, time.Second) // 5s
func EnforceMinTimeout(timeout, min time.Duration) time.Duration {
	if timeout < min {
		return min
	}
	return timeout
}

// DefaultIfZero returns def when timeout is zero or negative.
func DefaultIfZero(timeout, def time.Duration) time.Duration {
	if timeout <= 0 {
		return def
	}
	return timeout
}
