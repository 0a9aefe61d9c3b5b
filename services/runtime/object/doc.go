// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package object implements the task and lifecycle protocol of runtime
// Objects (hardware adapters, instruments and modules).
//
// # Description
//
// Every Object owns a data value guarded by a lockable.Synchronized and
// runs a single worker goroutine:
//
//	Start ──► Init (layers in order) ──► loop ──────────────► Exit (layers reversed)
//	                                      │ drain tasks FIFO
//	                                      │ Update (layers in order) every UpdateInterval
//	                                      └ until Stop or a non-recoverable error
//
// Concrete Object types contribute one [Layer] per level of their type
// hierarchy. Init handlers run base first, Exit handlers derived first.
//
// # Failure Handling
//
//   - Task errors of Info or Warning severity become the Object's warning;
//     the worker keeps running.
//   - Error or Fatal severity (and panics) move the Object into StateError.
//     Queued tasks fail with the same error and Exit still runs.
//   - Up to MaxSilentUpdateFailures consecutive recoverable Update failures
//     are ignored. Further ones are escalated: stored as warning and logged,
//     rate limited.
//   - Errors returned by Exit handlers are logged at Debug and dropped.
//
// # Linked Objects
//
// An Object that uses another one declares a [Link]. Links are resolved
// from the [Registry] and locked during Init, so the used Object cannot be
// reset while in use, and released after Exit.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package object
