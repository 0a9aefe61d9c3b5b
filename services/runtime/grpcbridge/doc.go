// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grpcbridge maps the Object task protocol onto gRPC.
//
// # Client Side
//
// A [Client] owns a lazily dialed connection and the stub built on it.
// The stub is guarded by a lockable.Synchronized; functions suffixed
// Unsafe take the Locked token and therefore cannot be called without
// holding the lock. [Invoke] issues one unary RPC with a fixed deadline
// and converts a non-OK status into an exception.Error of kind
// ServiceFailed carrying the gRPC code.
//
// # Server Side
//
// A [Server] is a module Object hosting a grpc.Server. Requests do not
// run on gRPC's goroutines. Instead every method keeps one call in state
// Init waiting for a request:
//
//	Init ──(request arrives, event on the completion queue)──► Process
//	Process: spawn exactly one new Init sibling, run the method, finish
//	Process ──(finish event)──► Exit: the slot is freed, its tag is stale
//
// Calls live in a slab of slots tagged with a generation counter, so an
// event carrying the tag of a freed slot is detected and dropped. The
// module's worker polls the [CompletionQueue] with a short timeout and
// advances the call each event belongs to.
package grpcbridge
