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
	"encoding/binary"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/dynexp/services/runtime/circularbuf"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// converter maps samples of type T to and from BasicSample.
type converter[T any] struct {
	toBasic   func(T) BasicSample
	fromBasic func(BasicSample) T
	timeUsed  bool
}

// CircularStream stores samples of the fixed-size type T in a circular
// buffer. Samples are encoded little endian.
//
// Writing more samples than fit overwrites the oldest ones. Use SeekEqual
// or the recent-sample functions to catch up with the producer.
type CircularStream[T any] struct {
	name       string
	buf        *circularbuf.Buffer
	sampleSize int64
	written    uint64
	scratch    []byte

	conv     *converter[T]
	validate func(T) error

	writtenCounter  prometheus.Counter
	rejectedCounter prometheus.Counter
}

// NewCircularStream creates a stream holding size samples. T must have a
// fixed binary size, otherwise a TypeMismatch error is returned.
func NewCircularStream[T any](name string, size uint64) (*CircularStream[T], error) {
	var zero T
	sz := binary.Size(zero)
	if sz <= 0 {
		return nil, exception.TypeMismatch("stream %s: sample type %T has no fixed binary size", name, zero)
	}

	s := &CircularStream[T]{
		name:            name,
		sampleSize:      int64(sz),
		scratch:         make([]byte, 0, sz),
		writtenCounter:  samplesWritten.WithLabelValues(name),
		rejectedCounter: samplesRejected.WithLabelValues(name),
	}
	buf, err := circularbuf.New(0)
	if err != nil {
		return nil, err
	}
	s.buf = buf
	if err := s.SetStreamSize(size); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the stream name.
func (s *CircularStream[T]) Name() string {
	return s.name
}

// StreamSizeRead returns the number of readable samples.
func (s *CircularStream[T]) StreamSizeRead() uint64 {
	return uint64(s.buf.ReadRegion() / s.sampleSize)
}

// StreamSizeWrite returns the capacity in samples.
func (s *CircularStream[T]) StreamSizeWrite() uint64 {
	return uint64(s.buf.Capacity() / s.sampleSize)
}

// NumSamplesWritten returns the samples written since the last Clear. The
// counter saturates at math.MaxUint64.
func (s *CircularStream[T]) NumSamplesWritten() uint64 {
	return s.written
}

// ReadPos returns the read cursor in samples.
func (s *CircularStream[T]) ReadPos() uint64 {
	return uint64(s.buf.GetPos() / s.sampleSize)
}

// WritePos returns the write cursor in samples.
func (s *CircularStream[T]) WritePos() uint64 {
	return uint64(s.buf.PutPos() / s.sampleSize)
}

// SetStreamSize resizes the stream to n samples. Data outside the overlap
// of the old and new size is undefined afterwards.
func (s *CircularStream[T]) SetStreamSize(n uint64) error {
	if n > uint64(math.MaxInt64/s.sampleSize) {
		return exception.Overflow("stream %s: %d samples exceed the maximum stream size", s.name, n)
	}
	return s.buf.Resize(n * uint64(s.sampleSize))
}

// Clear empties the stream and resets the written counter.
func (s *CircularStream[T]) Clear() {
	s.buf.Clear()
	s.written = 0
}

// -----------------------------------------------------------------------------
// Typed access
// -----------------------------------------------------------------------------

// WriteSample validates and appends v.
func (s *CircularStream[T]) WriteSample(v T) error {
	if err := s.check(v); err != nil {
		return err
	}
	return s.write(v)
}

// WriteSamples validates every sample first and writes all of them only if
// they are all valid.
func (s *CircularStream[T]) WriteSamples(vs []T) error {
	for _, v := range vs {
		if err := s.check(v); err != nil {
			return err
		}
	}
	for _, v := range vs {
		if err := s.write(v); err != nil {
			return err
		}
	}
	return nil
}

// ReadSample reads the sample at the read cursor and advances it. Returns
// an Underflow error if the stream is empty.
func (s *CircularStream[T]) ReadSample() (T, error) {
	var v T
	if s.buf.ReadRegion() == 0 {
		return v, exception.Underflow("stream %s is empty", s.name)
	}

	s.scratch = s.scratch[:s.sampleSize]
	if _, err := s.buf.Read(s.scratch); err != nil {
		return v, exception.Wrap(exception.KindUnderflow, err, "stream %s", s.name)
	}
	if _, err := binary.Decode(s.scratch, binary.LittleEndian, &v); err != nil {
		return v, exception.Wrap(exception.KindInvalidData, err, "stream %s: decoding sample", s.name)
	}
	return v, nil
}

// ReadSamples reads n samples.
func (s *CircularStream[T]) ReadSamples(n int) ([]T, error) {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.ReadSample()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *CircularStream[T]) check(v T) error {
	if s.validate == nil {
		return nil
	}
	if err := s.validate(v); err != nil {
		s.rejectedCounter.Inc()
		return err
	}
	return nil
}

func (s *CircularStream[T]) write(v T) error {
	enc, err := binary.Append(s.scratch[:0], binary.LittleEndian, v)
	if err != nil {
		return exception.Wrap(exception.KindInvalidData, err, "stream %s: encoding sample", s.name)
	}
	s.scratch = enc
	if _, err := s.buf.Write(enc); err != nil {
		return err
	}
	if s.written < math.MaxUint64 {
		s.written++
	}
	s.writtenCounter.Inc()
	return nil
}

// -----------------------------------------------------------------------------
// Positioning
// -----------------------------------------------------------------------------

// SeekBeg moves the selected cursor(s) to the start.
func (s *CircularStream[T]) SeekBeg(which circularbuf.Which) error {
	_, err := s.buf.Seek(0, circularbuf.Start, which)
	return err
}

// SeekEnd moves the selected cursor(s) to the end of their region.
func (s *CircularStream[T]) SeekEnd(which circularbuf.Which) error {
	_, err := s.buf.Seek(0, circularbuf.End, which)
	return err
}

// SeekEqual moves one cursor onto the other. For In the read cursor jumps
// to the write cursor, which fails without changes if the write cursor lies
// beyond the readable region. For Out the write cursor jumps to the read
// cursor. Both is invalid.
func (s *CircularStream[T]) SeekEqual(which circularbuf.Which) error {
	switch which {
	case circularbuf.In:
		_, err := s.buf.SeekPos(s.buf.PutPos(), circularbuf.In)
		return err
	case circularbuf.Out:
		_, err := s.buf.SeekPos(s.buf.GetPos(), circularbuf.Out)
		return err
	default:
		return exception.InvalidArgument("stream %s: SeekEqual needs exactly one direction, got %s", s.name, which)
	}
}

// -----------------------------------------------------------------------------
// Basic samples
// -----------------------------------------------------------------------------

// IsBasicSampleConvertible reports whether samples can be read and written
// as BasicSample.
func (s *CircularStream[T]) IsBasicSampleConvertible() bool {
	return s.conv != nil
}

// IsBasicSampleTimeUsed reports whether BasicSample.Time is stored.
func (s *CircularStream[T]) IsBasicSampleTimeUsed() bool {
	return s.conv != nil && s.conv.timeUsed
}

// WriteBasicSample converts and writes b.
func (s *CircularStream[T]) WriteBasicSample(b BasicSample) error {
	if s.conv == nil {
		return exception.NotImplemented("stream %s does not support basic samples", s.name)
	}
	return s.WriteSample(s.conv.fromBasic(b))
}

// ReadBasicSample reads one sample and converts it.
func (s *CircularStream[T]) ReadBasicSample() (BasicSample, error) {
	if s.conv == nil {
		return BasicSample{}, exception.NotImplemented("stream %s does not support basic samples", s.name)
	}
	v, err := s.ReadSample()
	if err != nil {
		return BasicSample{}, err
	}
	return s.conv.toBasic(v), nil
}

// NumRecentBasicSamples returns how many samples were written after the
// first count ones, limited to what is still readable.
func (s *CircularStream[T]) NumRecentBasicSamples(count uint64) uint64 {
	if count >= s.written {
		return 0
	}
	return min(s.written-count, s.StreamSizeRead())
}

// ReadRecentBasicSamples reads the samples NumRecentBasicSamples(count)
// reports, oldest first. The read cursor is restored afterwards so
// sequential readers are not affected.
func (s *CircularStream[T]) ReadRecentBasicSamples(count uint64) ([]BasicSample, error) {
	if s.conv == nil {
		return nil, exception.NotImplemented("stream %s does not support basic samples", s.name)
	}
	n := s.NumRecentBasicSamples(count)
	if n == 0 {
		return nil, nil
	}

	saved := s.buf.GetPos()
	defer func() {
		_, _ = s.buf.SeekPos(saved, circularbuf.In)
	}()

	start := s.buf.PutPos() - int64(n)*s.sampleSize
	if start < 0 {
		start += s.buf.ReadRegion()
	}
	if _, err := s.buf.SeekPos(start, circularbuf.In); err != nil {
		return nil, err
	}

	out := make([]BasicSample, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := s.ReadSample()
		if err != nil {
			return out, err
		}
		out = append(out, s.conv.toBasic(v))
	}
	return out, nil
}

var _ Stream = (*CircularStream[BasicSample])(nil)
