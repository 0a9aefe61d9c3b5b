// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exception

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	pkgerrors "github.com/pkg/errors"
)

// Location is the source position an error was raised at.
type Location struct {
	File     string
	Line     int
	Function string
}

// String formats the location as "file.go:42 pkg.Func".
func (l Location) String() string {
	if l.File == "" {
		return "unknown location"
	}
	return fmt.Sprintf("%s:%d %s", filepath.Base(l.File), l.Line, l.Function)
}

// Error is the runtime's error type.
//
// Thread Safety: an Error is immutable once returned by a constructor.
type Error struct {
	// Kind identifies what went wrong.
	Kind Kind

	// Severity decides whether the raising Object may continue.
	Severity Severity

	// Code is a stable numeric code. Kinds map to negative codes;
	// ServiceFailed errors carry the gRPC status code instead.
	Code int

	// Message describes the failure.
	Message string

	// Location is where the error was raised.
	Location Location

	// Origin names the Object a forwarded error came from. Empty unless
	// the error was produced by Forward.
	Origin string

	cause error
	stack pkgerrors.StackTrace
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// newError builds an Error. skip is the number of frames between the
// caller of interest and newError.
func newError(skip int, kind Kind, msg string, cause error) *Error {
	return &Error{
		Kind:     kind,
		Severity: kind.DefaultSeverity(),
		Code:     kind.Code(),
		Message:  msg,
		Location: callerLocation(skip + 1),
		cause:    cause,
		stack:    captureStack(skip + 2),
	}
}

func callerLocation(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{}
	}
	loc := Location{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = fn.Name()
	}
	return loc
}

func captureStack(skip int) pkgerrors.StackTrace {
	st := pkgerrors.New("").(stackTracer).StackTrace()
	if skip >= len(st) {
		return nil
	}
	return st[skip:]
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return newError(1, kind, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error of the given kind caused by err. Returns nil if err
// is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return newError(1, kind, fmt.Sprintf(format, args...), err)
}

// InvalidArgument reports a bad parameter.
func InvalidArgument(format string, args ...any) *Error {
	return newError(1, KindInvalidArgument, fmt.Sprintf(format, args...), nil)
}

// InvalidState reports an operation attempted in the wrong state.
func InvalidState(format string, args ...any) *Error {
	return newError(1, KindInvalidState, fmt.Sprintf(format, args...), nil)
}

// InvalidData reports data that failed validation.
func InvalidData(format string, args ...any) *Error {
	return newError(1, KindInvalidData, fmt.Sprintf(format, args...), nil)
}

// OutOfRange reports an index or position outside the valid range.
func OutOfRange(format string, args ...any) *Error {
	return newError(1, KindOutOfRange, fmt.Sprintf(format, args...), nil)
}

// Overflow reports a value that does not fit its target type.
func Overflow(format string, args ...any) *Error {
	return newError(1, KindOverflow, fmt.Sprintf(format, args...), nil)
}

// Underflow reports reading past available data.
func Underflow(format string, args ...any) *Error {
	return newError(1, KindUnderflow, fmt.Sprintf(format, args...), nil)
}

// Empty reports an operation on an empty container.
func Empty(format string, args ...any) *Error {
	return newError(1, KindEmpty, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing item.
func NotFound(format string, args ...any) *Error {
	return newError(1, KindNotFound, fmt.Sprintf(format, args...), nil)
}

// TypeMismatch reports a value of an unexpected type.
func TypeMismatch(format string, args ...any) *Error {
	return newError(1, KindTypeMismatch, fmt.Sprintf(format, args...), nil)
}

// Timeout reports an expired bounded wait.
func Timeout(format string, args ...any) *Error {
	return newError(1, KindTimeout, fmt.Sprintf(format, args...), nil)
}

// ThreadUnresponsive reports a worker that did not react in time.
func ThreadUnresponsive(format string, args ...any) *Error {
	return newError(1, KindThreadUnresponsive, fmt.Sprintf(format, args...), nil)
}

// NotAvailable reports a resource that is temporarily unavailable.
func NotAvailable(format string, args ...any) *Error {
	return newError(1, KindNotAvailable, fmt.Sprintf(format, args...), nil)
}

// NotImplemented reports an operation a concrete type does not support.
func NotImplemented(format string, args ...any) *Error {
	return newError(1, KindNotImplemented, fmt.Sprintf(format, args...), nil)
}

// FileIO reports a failed file operation.
func FileIO(err error, format string, args ...any) *Error {
	return newError(1, KindFileIO, fmt.Sprintf(format, args...), err)
}

// LinkedObjectNotLocked reports use of a link outside its Init/Exit bracket.
func LinkedObjectNotLocked(format string, args ...any) *Error {
	return newError(1, KindLinkedObjectNotLocked, fmt.Sprintf(format, args...), nil)
}

// InvalidObjectLink reports a link to a missing or incompatible Object.
func InvalidObjectLink(format string, args ...any) *Error {
	return newError(1, KindInvalidObjectLink, fmt.Sprintf(format, args...), nil)
}

// WithSeverity overrides the default severity and returns e.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithCode overrides the numeric code and returns e.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	switch {
	case e.cause != nil && msg == "":
		msg = e.cause.Error()
	case e.cause != nil:
		msg = msg + ": " + e.cause.Error()
	case msg == "":
		msg = e.Kind.String()
	}
	if e.Origin != "" {
		return fmt.Sprintf("%s (forwarded from %s)", msg, e.Origin)
	}
	return msg
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// StackTrace returns the stack captured when the error was raised.
func (e *Error) StackTrace() pkgerrors.StackTrace {
	return e.stack
}

// Format supports %s, %v, %q and %+v. %+v appends kind, severity, code,
// location and the stack trace.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s [%s, %s, code %d] at %s", e.Error(), e.Kind, e.Severity, e.Code, e.Location)
			e.stack.Format(s, verb)
			return
		}
		io.WriteString(s, e.Error())
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// -----------------------------------------------------------------------------
// Inspection
// -----------------------------------------------------------------------------

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// SeverityOf returns the severity of err. Errors outside the taxonomy are
// treated as SeverityError, except context deadline expiry which counts
// as a Warning like any other timeout. A nil error is SeverityInfo.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	if e, ok := As(err); ok {
		return e.Severity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SeverityWarning
	}
	return SeverityError
}

// KindOf returns the kind of err, KindUnknown if it has none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// CodeOf returns the numeric code of err, -1 if it has none.
func CodeOf(err error) int {
	if e, ok := As(err); ok {
		return e.Code
	}
	return KindUnknown.Code()
}

// IsRecoverable reports whether err allows the Object to keep running.
func IsRecoverable(err error) bool {
	return SeverityOf(err).Recoverable()
}
