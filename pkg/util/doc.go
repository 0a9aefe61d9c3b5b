// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the DynExp runtime.
//
// This package contains low-level helpers that have no dependencies on
// other internal packages, making it a leaf package in the dependency graph.
//
// # Overview
//
//   - Timeout Management: default and minimum timeouts for lock acquisition,
//     RPC deadlines and the server polling loop
//   - Ring Buffer: thread-safe drop-oldest buffer used for event history
//   - Goroutine Safety: panic recovery for Object worker goroutines
//
// # Thread Safety
//
// [RingBuffer] is fully thread-safe. The goroutine helpers are stateless.
package util
