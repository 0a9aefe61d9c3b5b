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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/services/runtime/circularbuf"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

var (
	_ Stream = (*BasicSampleStream)(nil)
	_ Stream = (*NumericSampleStream[float64])(nil)
)

func TestNumericStream_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		seq  []float64
	}{
		{"empty", nil},
		{"single", []float64{0.5}},
		{"bounds", []float64{-1, 1, 0}},
		{"fills capacity", []float64{-0.9, -0.1, 0, 0.25, 0.5, 0.75, 0.99, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewNumericSampleStream[float64]("roundtrip", 8, -1, 1)
			require.NoError(t, err)

			require.NoError(t, s.WriteSamples(tt.seq))
			got, err := s.ReadSamples(len(tt.seq))
			require.NoError(t, err)
			assert.Equal(t, len(tt.seq), len(got))
			for i := range tt.seq {
				assert.Equal(t, tt.seq[i], got[i])
			}
			assert.Equal(t, uint64(len(tt.seq)), s.NumSamplesWritten())
		})
	}
}

func TestNumericStream_IntegerRoundTrip(t *testing.T) {
	s, err := NewNumericSampleStream[int16]("counts", 4, math.MinInt16, math.MaxInt16)
	require.NoError(t, err)

	require.NoError(t, s.WriteSamples([]int16{-32768, 0, 12345, 32767}))
	got, err := s.ReadSamples(4)
	require.NoError(t, err)
	assert.Equal(t, []int16{-32768, 0, 12345, 32767}, got)
}

func TestNumericStream_InvalidDataLeavesCursorUnchanged(t *testing.T) {
	s, err := NewNumericSampleStream[float64]("guarded", 4, -1, 1)
	require.NoError(t, err)
	require.NoError(t, s.WriteSample(0.1))

	tests := []struct {
		name  string
		write func() error
	}{
		{"above max", func() error { return s.WriteSample(2) }},
		{"below min", func() error { return s.WriteSample(-1.5) }},
		{"nan", func() error { return s.WriteSample(math.NaN()) }},
		{"batch with one bad", func() error { return s.WriteSamples([]float64{0.2, 5}) }},
		{"basic sample", func() error { return s.WriteBasicSample(BasicSample{Value: 3}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.write()
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrInvalidData))
			assert.Equal(t, uint64(1), s.WritePos())
			assert.Equal(t, uint64(1), s.NumSamplesWritten())
		})
	}
}

func TestNumericStream_InvalidRange(t *testing.T) {
	_, err := NewNumericSampleStream[float64]("bad", 4, 1, -1)
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestNumericStream_OverwritesOldest(t *testing.T) {
	s, err := NewNumericSampleStream[float64]("capacity4", 4, -1, 1)
	require.NoError(t, err)

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		require.NoError(t, s.WriteSample(v))
	}
	assert.Equal(t, uint64(5), s.NumSamplesWritten())
	assert.Equal(t, uint64(4), s.StreamSizeRead())

	require.NoError(t, s.SeekEqual(circularbuf.In))
	got, err := s.ReadSamples(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.3, 0.4, 0.5}, got)

	recent, err := s.ReadRecentBasicSamples(0)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	for i, want := range []float64{0.2, 0.3, 0.4, 0.5} {
		assert.Equal(t, want, recent[i].Value)
		assert.Zero(t, recent[i].Time)
	}
}

func TestBasicStream_RecentSampleAccounting(t *testing.T) {
	s, err := NewBasicSampleStream("recent", 8)
	require.NoError(t, err)
	assert.True(t, s.IsBasicSampleConvertible())
	assert.True(t, s.IsBasicSampleTimeUsed())

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, s.WriteBasicSample(BasicSample{Value: float64(i), Time: float64(10 * i)}))
	}

	for k := uint64(0); k <= n+1; k++ {
		want := uint64(0)
		if k < n {
			want = min(n-k, s.StreamSizeRead())
		}
		assert.Equal(t, want, s.NumRecentBasicSamples(k), "k=%d", k)
	}

	first, err := s.ReadBasicSample()
	require.NoError(t, err)
	second, err := s.ReadBasicSample()
	require.NoError(t, err)
	assert.Equal(t, BasicSample{Value: 0, Time: 0}, first)
	assert.Equal(t, BasicSample{Value: 1, Time: 10}, second)

	recent, err := s.ReadRecentBasicSamples(3)
	require.NoError(t, err)
	assert.Equal(t, []BasicSample{{Value: 3, Time: 30}, {Value: 4, Time: 40}}, recent)

	all, err := s.ReadRecentBasicSamples(0)
	require.NoError(t, err)
	assert.Len(t, all, n)

	third, err := s.ReadBasicSample()
	require.NoError(t, err)
	assert.Equal(t, BasicSample{Value: 2, Time: 20}, third, "sequential reader is unaffected")

	none, err := s.ReadRecentBasicSamples(n)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBasicStream_RecentSamplesAfterWrap(t *testing.T) {
	s, err := NewBasicSampleStream("wrapped", 4)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, s.WriteBasicSample(BasicSample{Value: float64(i)}))
	}
	assert.Equal(t, uint64(4), s.NumRecentBasicSamples(0))
	assert.Equal(t, uint64(3), s.NumRecentBasicSamples(3))

	recent, err := s.ReadRecentBasicSamples(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 3.0, recent[0].Value)
	assert.Equal(t, 4.0, recent[1].Value)
	assert.Equal(t, 5.0, recent[2].Value)
	assert.Equal(t, uint64(0), s.ReadPos())
}

func TestCircularStream_BasicSamplesNotImplemented(t *testing.T) {
	s, err := NewCircularStream[int32]("raw", 4)
	require.NoError(t, err)
	assert.False(t, s.IsBasicSampleConvertible())
	assert.False(t, s.IsBasicSampleTimeUsed())

	err = s.WriteBasicSample(BasicSample{Value: 1})
	assert.True(t, errors.Is(err, exception.ErrNotImplemented))
	_, err = s.ReadBasicSample()
	assert.True(t, errors.Is(err, exception.ErrNotImplemented))
	_, err = s.ReadRecentBasicSamples(0)
	assert.True(t, errors.Is(err, exception.ErrNotImplemented))
}

func TestCircularStream_UnsizedType(t *testing.T) {
	_, err := NewCircularStream[string]("strings", 4)
	assert.True(t, errors.Is(err, exception.ErrTypeMismatch))
}

func TestCircularStream_ReadEmpty(t *testing.T) {
	s, err := NewCircularStream[float32]("empty", 4)
	require.NoError(t, err)

	_, err = s.ReadSample()
	assert.True(t, errors.Is(err, exception.ErrUnderflow))
}

func TestCircularStream_SeekEqual(t *testing.T) {
	s, err := NewCircularStream[uint32]("seek", 4)
	require.NoError(t, err)
	require.NoError(t, s.WriteSamples([]uint32{1, 2}))

	require.NoError(t, s.SeekEqual(circularbuf.In))
	assert.Equal(t, uint64(2), s.ReadPos())

	require.NoError(t, s.SeekBeg(circularbuf.In))
	require.NoError(t, s.SeekEqual(circularbuf.Out))
	assert.Equal(t, uint64(0), s.WritePos())

	require.NoError(t, s.SeekEnd(circularbuf.Out))
	assert.Equal(t, uint64(4), s.WritePos())
	err = s.SeekEqual(circularbuf.In)
	assert.Error(t, err, "write cursor beyond the readable region")
	assert.Equal(t, uint64(0), s.ReadPos())

	assert.True(t, errors.Is(s.SeekEqual(circularbuf.Both), exception.ErrInvalidArgument))
}

func TestCircularStream_SetStreamSize(t *testing.T) {
	s, err := NewCircularStream[float64]("sized", 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteSamples([]float64{1, 2}))

	require.NoError(t, s.SetStreamSize(10))
	assert.Equal(t, uint64(10), s.StreamSizeWrite())
	got, err := s.ReadSamples(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	err = s.SetStreamSize(math.MaxUint64 / 4)
	assert.True(t, errors.Is(err, exception.ErrOverflow))

	s.Clear()
	assert.Zero(t, s.NumSamplesWritten())
	assert.Zero(t, s.StreamSizeRead())
}
