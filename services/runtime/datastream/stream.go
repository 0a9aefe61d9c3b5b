// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datastream provides typed sample streams on top of circularbuf.
//
// # Description
//
// A [CircularStream] stores fixed-size samples in a byte ring. Producers
// (hardware polling tasks) write samples; consumers read them sequentially
// or ask for the samples written since they last looked with
// [CircularStream.NumRecentBasicSamples] and
// [CircularStream.ReadRecentBasicSamples], which leave the sequential read
// cursor untouched so several consumers can follow one producer.
//
// Streams convertible to [BasicSample] can be handled without knowing their
// sample type through the [Stream] interface.
//
// # Thread Safety
//
// Streams are not safe for concurrent use. They live in an Object's
// synchronized data and are only accessed while that lock is held.
package datastream

import (
	"github.com/AleutianAI/dynexp/services/runtime/circularbuf"
)

// BasicSample is the canonical sample representation.
type BasicSample struct {
	Value float64
	Time  float64
}

// Stream is the type independent view on a sample stream.
type Stream interface {
	// Name identifies the stream in errors and metrics.
	Name() string

	// StreamSizeRead returns the number of readable samples.
	StreamSizeRead() uint64

	// StreamSizeWrite returns the capacity in samples.
	StreamSizeWrite() uint64

	// NumSamplesWritten returns the samples written since the last Clear.
	NumSamplesWritten() uint64

	IsBasicSampleConvertible() bool
	IsBasicSampleTimeUsed() bool
	WriteBasicSample(s BasicSample) error
	ReadBasicSample() (BasicSample, error)

	SeekBeg(which circularbuf.Which) error
	SeekEnd(which circularbuf.Which) error
	SeekEqual(which circularbuf.Which) error

	Clear()
	SetStreamSize(n uint64) error

	NumRecentBasicSamples(count uint64) uint64
	ReadRecentBasicSamples(count uint64) ([]BasicSample, error)
}
