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
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FromStatus converts a non-OK gRPC status into a ServiceFailed error whose
// Code is the gRPC status code. Returns nil for OK or nil status.
//
// An UNIMPLEMENTED status without a message usually means client and server
// were built from different service definitions, so it gets a message
// saying that instead of an empty one.
func FromStatus(st *status.Status, call string) *Error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}

	msg := st.Message()
	if st.Code() == codes.Unimplemented && msg == "" {
		msg = "the server does not implement this call; client and server probably use different versions of the service definition"
	}

	e := newError(1, KindServiceFailed, fmt.Sprintf("%s failed (%s): %s", call, st.Code(), msg), nil)
	e.Code = int(st.Code())
	return e
}

// ToStatus converts err into a gRPC status for the server side.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	e, ok := As(err)
	if !ok {
		return status.New(codes.Internal, err.Error())
	}
	if e.Kind == KindServiceFailed && e.Code >= 0 {
		return status.New(codes.Code(e.Code), e.Error())
	}
	return status.New(kindToCode(e.Kind), e.Error())
}

func kindToCode(k Kind) codes.Code {
	switch k {
	case KindInvalidArgument, KindInvalidData, KindTypeMismatch:
		return codes.InvalidArgument
	case KindOutOfRange, KindOverflow, KindUnderflow:
		return codes.OutOfRange
	case KindInvalidState, KindInvalidCall, KindLinkedObjectNotLocked:
		return codes.FailedPrecondition
	case KindNotFound, KindEmpty:
		return codes.NotFound
	case KindTimeout, KindThreadUnresponsive:
		return codes.DeadlineExceeded
	case KindNotAvailable:
		return codes.Unavailable
	case KindNotImplemented:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}
