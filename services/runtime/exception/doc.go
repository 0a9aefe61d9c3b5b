// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exception defines the error taxonomy of the DynExp runtime.
//
// # Overview
//
// Every failure raised by the runtime is an [*Error] carrying:
//
//   - a [Kind] (Timeout, InvalidData, ServiceFailed, ...)
//   - a [Severity] (Info, Warning, Error, Fatal)
//   - a stable numeric code
//   - the source location it was raised at, plus a captured stack trace
//
// Severity decides what the task runner does with a failure: Info and
// Warning are recoverable (logged, stored as the Object's warning, the
// Object keeps running), Error and Fatal put the Object into its error
// state.
//
// # Matching
//
// Kinds are matched with the standard library:
//
//	if errors.Is(err, exception.ErrTimeout) {
//	    // retry on the next tick
//	}
//
// and severity is inspected with [SeverityOf] or [IsRecoverable], so call
// sites switch on values rather than on error types.
//
// # Forwarding
//
// When the failure of one Object has to be reported through another
// Object's link, [Forward] wraps it, keeping kind, severity and code of the
// original and recording which Object it came from.
package exception
