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
	"fmt"
	"runtime/debug"
)

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at panic time, formatted by runtime/debug.Stack().
	Stack string
}

// Error formats the panic value so PanicInfo can be carried as an error.
func (p PanicInfo) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// SafeGo runs fn in a new goroutine and reports a panic to onPanic instead
// of crashing the process.
//
// Object worker loops are started this way so that a defect in one
// instrument puts only that instrument into its error state.
func SafeGo(fn func(), onPanic func(PanicInfo)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a function to be deferred that recovers a panic and
// forwards it to onPanic. A nil onPanic swallows the panic.
//
//	defer util.RecoverPanic(func(p util.PanicInfo) { ... })()
func RecoverPanic(onPanic func(PanicInfo)) func() {
	return func() {
		if r := recover(); r != nil {
			info := PanicInfo{
				Value: r,
				Stack: string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(info)
			}
		}
	}
}
