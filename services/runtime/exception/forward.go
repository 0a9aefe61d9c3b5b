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

// Forward wraps err so it can be re-raised by another Object.
//
// Kind, severity and code of the original are kept, origin records the
// Object it came from and the location is that of the forwarding site.
// errors.Is and errors.As still reach the original through Unwrap.
// Returns nil if err is nil.
func Forward(err error, origin string) *Error {
	if err == nil {
		return nil
	}

	fwd := newError(1, KindUnknown, "", err)
	fwd.Origin = origin
	if src, ok := As(err); ok {
		fwd.Kind = src.Kind
		fwd.Severity = src.Severity
		fwd.Code = src.Code
	} else {
		fwd.Severity = SeverityOf(err)
		fwd.Kind = KindOf(err)
		fwd.Code = fwd.Kind.Code()
	}
	return fwd
}

// IsForwarded reports whether err was produced by Forward.
func IsForwarded(err error) bool {
	e, ok := As(err)
	return ok && e.Origin != ""
}
