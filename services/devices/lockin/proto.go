// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockin

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AleutianAI/dynexp/services/runtime/datastream"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// ServiceName is the gRPC service of lock-in amplifiers. Messages are
// well-known types:
//
//	GetSensitivity   (Empty)       returns (DoubleValue)
//	SetSensitivity   (DoubleValue) returns (Empty)
//	GetPhase         (Empty)       returns (DoubleValue)
//	SetPhase         (DoubleValue) returns (Empty)
//	GetTimeConstant  (Empty)       returns (DoubleValue)
//	SetTimeConstant  (DoubleValue) returns (Empty)
//	GetOverload      (Empty)       returns (BoolValue)
//	ReadSamples      (UInt64Value) returns (Struct)
//	GetStatus        (Empty)       returns (Struct)
//	AutoRange        (Empty)       returns (Empty)
//	ClearStream      (Empty)       returns (Empty)
const ServiceName = "dynexp.lockin.v1.LockinAmplifier"

// Method names of ServiceName.
const (
	MethodGetSensitivity  = "GetSensitivity"
	MethodSetSensitivity  = "SetSensitivity"
	MethodGetPhase        = "GetPhase"
	MethodSetPhase        = "SetPhase"
	MethodGetTimeConstant = "GetTimeConstant"
	MethodSetTimeConstant = "SetTimeConstant"
	MethodGetOverload     = "GetOverload"
	MethodReadSamples     = "ReadSamples"
	MethodGetStatus       = "GetStatus"
	MethodAutoRange       = "AutoRange"
	MethodClearStream     = "ClearStream"
)

// FullMethod returns "/dynexp.lockin.v1.LockinAmplifier/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LockinClient is the client stub of ServiceName.
type LockinClient struct {
	cc grpc.ClientConnInterface
}

// NewLockinClient creates a stub on cc.
func NewLockinClient(cc grpc.ClientConnInterface) LockinClient {
	return LockinClient{cc: cc}
}

func invoke[Out proto.Message](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, out Out, opts []grpc.CallOption) (Out, error) {
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		var zero Out
		return zero, err
	}
	return out, nil
}

func (c LockinClient) GetSensitivity(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	return invoke(ctx, c.cc, MethodGetSensitivity, in, new(wrapperspb.DoubleValue), opts)
}

func (c LockinClient) SetSensitivity(ctx context.Context, in *wrapperspb.DoubleValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, MethodSetSensitivity, in, new(emptypb.Empty), opts)
}

func (c LockinClient) GetPhase(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	return invoke(ctx, c.cc, MethodGetPhase, in, new(wrapperspb.DoubleValue), opts)
}

func (c LockinClient) SetPhase(ctx context.Context, in *wrapperspb.DoubleValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, MethodSetPhase, in, new(emptypb.Empty), opts)
}

func (c LockinClient) GetTimeConstant(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	return invoke(ctx, c.cc, MethodGetTimeConstant, in, new(wrapperspb.DoubleValue), opts)
}

func (c LockinClient) SetTimeConstant(ctx context.Context, in *wrapperspb.DoubleValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, MethodSetTimeConstant, in, new(emptypb.Empty), opts)
}

func (c LockinClient) GetOverload(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return invoke(ctx, c.cc, MethodGetOverload, in, new(wrapperspb.BoolValue), opts)
}

func (c LockinClient) ReadSamples(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MethodReadSamples, in, new(structpb.Struct), opts)
}

func (c LockinClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, MethodGetStatus, in, new(structpb.Struct), opts)
}

func (c LockinClient) AutoRange(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, MethodAutoRange, in, new(emptypb.Empty), opts)
}

func (c LockinClient) ClearStream(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, MethodClearStream, in, new(emptypb.Empty), opts)
}

// =============================================================================
// Struct encodings
// =============================================================================

// Counters are carried as decimal strings; a Struct number is a float64
// and would round totals above 2^53.

func counterValue(n uint64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatUint(n, 10))
}

func counterFrom(f map[string]*structpb.Value, key string) (uint64, error) {
	v, ok := f[key]
	if !ok {
		return 0, exception.InvalidData("message has no %s", key)
	}
	n, err := strconv.ParseUint(v.GetStringValue(), 10, 64)
	if err != nil {
		return 0, exception.Wrap(exception.KindInvalidData, err, "decoding %s", key)
	}
	return n, nil
}

func numberList(vs []float64) *structpb.Value {
	out := make([]*structpb.Value, len(vs))
	for i, v := range vs {
		out[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

// samplesToStruct encodes s as {"total": "n", "values": [...], "times": [...]}.
func samplesToStruct(s Samples) *structpb.Struct {
	values := make([]float64, len(s.Values))
	times := make([]float64, len(s.Values))
	for i, v := range s.Values {
		values[i] = v.Value
		times[i] = v.Time
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"total":  counterValue(s.Total),
		"values": numberList(values),
		"times":  numberList(times),
	}}
}

func samplesFromStruct(st *structpb.Struct) (Samples, error) {
	f := st.GetFields()
	total, err := counterFrom(f, "total")
	if err != nil {
		return Samples{}, err
	}
	values := f["values"].GetListValue().GetValues()
	times := f["times"].GetListValue().GetValues()
	if len(values) != len(times) {
		return Samples{}, exception.InvalidData("samples message has %d values but %d times", len(values), len(times))
	}

	out := Samples{Total: total, Values: make([]datastream.BasicSample, len(values))}
	for i := range values {
		out.Values[i] = datastream.BasicSample{Value: values[i].GetNumberValue(), Time: times[i].GetNumberValue()}
	}
	return out, nil
}

func limitsToStruct(l Limits) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"min_sensitivity":   structpb.NewNumberValue(l.MinSensitivity),
		"max_sensitivity":   structpb.NewNumberValue(l.MaxSensitivity),
		"min_time_constant": structpb.NewNumberValue(l.MinTimeConstant),
		"max_time_constant": structpb.NewNumberValue(l.MaxTimeConstant),
	}}
}

func limitsFromStruct(st *structpb.Struct) (Limits, error) {
	f := st.GetFields()
	l := Limits{
		MinSensitivity:  f["min_sensitivity"].GetNumberValue(),
		MaxSensitivity:  f["max_sensitivity"].GetNumberValue(),
		MinTimeConstant: f["min_time_constant"].GetNumberValue(),
		MaxTimeConstant: f["max_time_constant"].GetNumberValue(),
	}
	if l.MaxSensitivity <= 0 || l.MinSensitivity > l.MaxSensitivity ||
		l.MaxTimeConstant <= 0 || l.MinTimeConstant > l.MaxTimeConstant {
		return Limits{}, exception.InvalidData("status message has invalid limits %+v", l)
	}
	return l, nil
}

func statusToStruct(s Status) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"sensitivity":     structpb.NewNumberValue(s.Sensitivity),
		"phase":           structpb.NewNumberValue(s.Phase),
		"time_constant":   structpb.NewNumberValue(s.TimeConstant),
		"enabled":         structpb.NewBoolValue(s.Enabled),
		"overload":        structpb.NewBoolValue(s.Overload),
		"samples_written": counterValue(s.SamplesWritten),
		"limits":          structpb.NewStructValue(limitsToStruct(s.Limits)),
	}}
}

func statusFromStruct(st *structpb.Struct) (Status, error) {
	f := st.GetFields()
	written, err := counterFrom(f, "samples_written")
	if err != nil {
		return Status{}, err
	}
	limits, err := limitsFromStruct(f["limits"].GetStructValue())
	if err != nil {
		return Status{}, err
	}
	return Status{
		Sensitivity:    f["sensitivity"].GetNumberValue(),
		Phase:          f["phase"].GetNumberValue(),
		TimeConstant:   f["time_constant"].GetNumberValue(),
		Enabled:        f["enabled"].GetBoolValue(),
		Overload:       f["overload"].GetBoolValue(),
		SamplesWritten: written,
		Limits:         limits,
	}, nil
}
