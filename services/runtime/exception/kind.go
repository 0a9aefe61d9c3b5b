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

import "errors"

// -----------------------------------------------------------------------------
// Severity
// -----------------------------------------------------------------------------

// Severity classifies how serious a failure is.
type Severity int

const (
	// SeverityInfo is purely informational.
	SeverityInfo Severity = iota

	// SeverityWarning is recoverable; the Object keeps running.
	SeverityWarning

	// SeverityError stops the affected Object.
	SeverityError

	// SeverityFatal stops the affected Object and indicates a defect.
	SeverityFatal
)

// String returns the label used in logs and in the HTML event log.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Recoverable reports whether an Object may continue after a failure of
// this severity.
func (s Severity) Recoverable() bool {
	return s == SeverityInfo || s == SeverityWarning
}

// -----------------------------------------------------------------------------
// Kind
// -----------------------------------------------------------------------------

// Kind identifies what went wrong.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindInvalidState
	KindInvalidData
	KindInvalidCall
	KindUnderflow
	KindOverflow
	KindOutOfRange
	KindEmpty
	KindNotFound
	KindTypeMismatch
	KindTimeout
	KindThreadUnresponsive
	KindNotAvailable
	KindNotImplemented
	KindFileIO
	KindLinkedObjectNotLocked
	KindInvalidObjectLink
	KindServiceFailed
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindInvalidArgument:       "invalid argument",
	KindInvalidState:          "invalid state",
	KindInvalidData:           "invalid data",
	KindInvalidCall:           "invalid call",
	KindUnderflow:             "underflow",
	KindOverflow:              "overflow",
	KindOutOfRange:            "out of range",
	KindEmpty:                 "empty",
	KindNotFound:              "not found",
	KindTypeMismatch:          "type mismatch",
	KindTimeout:               "timeout",
	KindThreadUnresponsive:    "thread unresponsive",
	KindNotAvailable:          "not available",
	KindNotImplemented:        "not implemented",
	KindFileIO:                "file i/o",
	KindLinkedObjectNotLocked: "linked object not locked",
	KindInvalidObjectLink:     "invalid object link",
	KindServiceFailed:         "service failed",
}

// String returns a human-readable kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Code returns the stable numeric error code of the kind.
//
// Codes are negative so they never collide with the positive gRPC status
// codes carried by ServiceFailed errors.
func (k Kind) Code() int {
	if k == KindUnknown {
		return -1
	}
	return -int(k) - 1
}

// DefaultSeverity is the severity an error of this kind gets unless the
// raising site overrides it.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case KindTimeout, KindServiceFailed, KindNotAvailable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// -----------------------------------------------------------------------------
// Sentinels
// -----------------------------------------------------------------------------

// Sentinel errors for errors.Is matching by kind.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidState          = errors.New("invalid state")
	ErrInvalidData           = errors.New("invalid data")
	ErrInvalidCall           = errors.New("invalid call")
	ErrUnderflow             = errors.New("underflow")
	ErrOverflow              = errors.New("overflow")
	ErrOutOfRange            = errors.New("out of range")
	ErrEmpty                 = errors.New("empty")
	ErrNotFound              = errors.New("not found")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrTimeout               = errors.New("timeout")
	ErrThreadUnresponsive    = errors.New("thread unresponsive")
	ErrNotAvailable          = errors.New("not available")
	ErrNotImplemented        = errors.New("not implemented")
	ErrFileIO                = errors.New("file i/o")
	ErrLinkedObjectNotLocked = errors.New("linked object not locked")
	ErrInvalidObjectLink     = errors.New("invalid object link")
	ErrServiceFailed         = errors.New("service failed")
)

var sentinels = map[Kind]error{
	KindInvalidArgument:       ErrInvalidArgument,
	KindInvalidState:          ErrInvalidState,
	KindInvalidData:           ErrInvalidData,
	KindInvalidCall:           ErrInvalidCall,
	KindUnderflow:             ErrUnderflow,
	KindOverflow:              ErrOverflow,
	KindOutOfRange:            ErrOutOfRange,
	KindEmpty:                 ErrEmpty,
	KindNotFound:              ErrNotFound,
	KindTypeMismatch:          ErrTypeMismatch,
	KindTimeout:               ErrTimeout,
	KindThreadUnresponsive:    ErrThreadUnresponsive,
	KindNotAvailable:          ErrNotAvailable,
	KindNotImplemented:        ErrNotImplemented,
	KindFileIO:                ErrFileIO,
	KindLinkedObjectNotLocked: ErrLinkedObjectNotLocked,
	KindInvalidObjectLink:     ErrInvalidObjectLink,
	KindServiceFailed:         ErrServiceFailed,
}

// Sentinel returns the sentinel error of a kind, or nil for KindUnknown.
func (k Kind) Sentinel() error {
	return sentinels[k]
}
