// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datastream

import (
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// BasicSampleStream stores value and time of every sample.
type BasicSampleStream struct {
	*CircularStream[BasicSample]
}

// NewBasicSampleStream creates a stream of size BasicSamples.
func NewBasicSampleStream(name string, size uint64) (*BasicSampleStream, error) {
	cs, err := NewCircularStream[BasicSample](name, size)
	if err != nil {
		return nil, err
	}
	cs.conv = &converter[BasicSample]{
		toBasic:   func(b BasicSample) BasicSample { return b },
		fromBasic: func(b BasicSample) BasicSample { return b },
		timeUsed:  true,
	}
	return &BasicSampleStream{CircularStream: cs}, nil
}

// Numeric lists the scalar types with a fixed binary size.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// NumericSampleStream stores scalar values within [MinValue, MaxValue].
// Basic samples are converted by value only; time reads back as zero.
type NumericSampleStream[T Numeric] struct {
	*CircularStream[T]

	MinValue T
	MaxValue T
}

// NewNumericSampleStream creates a stream of size values accepting only
// values in [minValue, maxValue].
func NewNumericSampleStream[T Numeric](name string, size uint64, minValue, maxValue T) (*NumericSampleStream[T], error) {
	if minValue > maxValue {
		return nil, exception.InvalidArgument("stream %s: minimum %v exceeds maximum %v", name, minValue, maxValue)
	}
	cs, err := NewCircularStream[T](name, size)
	if err != nil {
		return nil, err
	}

	s := &NumericSampleStream[T]{CircularStream: cs, MinValue: minValue, MaxValue: maxValue}
	cs.validate = s.ValidateSample
	cs.conv = &converter[T]{
		toBasic:   func(v T) BasicSample { return BasicSample{Value: float64(v)} },
		fromBasic: func(b BasicSample) T { return T(b.Value) },
	}
	return s, nil
}

// ValidateSample returns an InvalidData error if v lies outside
// [MinValue, MaxValue]. NaN is never valid.
func (s *NumericSampleStream[T]) ValidateSample(v T) error {
	if !(v >= s.MinValue && v <= s.MaxValue) {
		return exception.InvalidData("stream %s: sample %v outside [%v, %v]", s.name, v, s.MinValue, s.MaxValue)
	}
	return nil
}

// WriteBasicSample checks b.Value against the range before converting it,
// since converting an out of range float to an integer type is lossy.
func (s *NumericSampleStream[T]) WriteBasicSample(b BasicSample) error {
	if !(b.Value >= float64(s.MinValue) && b.Value <= float64(s.MaxValue)) {
		s.rejectedCounter.Inc()
		return exception.InvalidData("stream %s: sample %v outside [%v, %v]", s.name, b.Value, s.MinValue, s.MaxValue)
	}
	return s.CircularStream.WriteBasicSample(b)
}
