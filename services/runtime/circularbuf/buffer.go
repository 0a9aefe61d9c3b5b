// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package circularbuf implements a byte ring with independent read and write
// cursors used as backing storage of sample streams.
//
// The buffer has a put region spanning the whole capacity and a get region
// [0, ReadRegion()). Writing past the end of the put region wraps to the
// start and overwrites the oldest data; the writer never blocks. After a
// wrap the next Sync extends the get region to the whole buffer. Reading
// past the end of the get region wraps to its start as well, so a reader
// positioned at the put cursor reads the most recent Capacity() bytes in
// the order they were written.
//
// A Buffer is not safe for concurrent use. Streams built on it are owned by
// an Object's synchronized data and only touched while that lock is held.
package circularbuf

import (
	"fmt"
	"io"
	"math"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// Which selects the cursor(s) a seek applies to.
type Which int

const (
	// In is the get (read) cursor.
	In Which = 1 << iota

	// Out is the put (write) cursor.
	Out

	// Both moves get and put cursors together.
	Both = In | Out
)

// String returns the direction name.
func (w Which) String() string {
	switch w {
	case In:
		return "in"
	case Out:
		return "out"
	case Both:
		return "both"
	default:
		return "invalid"
	}
}

// Whence is the reference point of a relative seek.
type Whence int

const (
	// Start seeks relative to the start of the region.
	Start Whence = iota

	// Current seeks relative to the current cursor.
	Current

	// End seeks relative to the end of the region.
	End
)

// Buffer is a fixed capacity byte ring with separate get and put cursors.
type Buffer struct {
	data []byte

	gpos int64 // get cursor
	gend int64 // end of the readable region
	ppos int64 // put cursor

	putOverflowed bool
	written       uint64
}

// New creates a buffer of the given capacity in bytes.
func New(capacity uint64) (*Buffer, error) {
	b := &Buffer{}
	if err := b.Resize(capacity); err != nil {
		return nil, err
	}
	return b, nil
}

// Capacity returns the size of the put region.
func (b *Buffer) Capacity() int64 {
	return int64(len(b.data))
}

// GetPos returns the get cursor.
func (b *Buffer) GetPos() int64 {
	return b.gpos
}

// PutPos returns the put cursor.
func (b *Buffer) PutPos() int64 {
	return b.ppos
}

// ReadRegion returns the end of the readable region.
func (b *Buffer) ReadRegion() int64 {
	return b.gend
}

// PutOverflowed reports whether the put cursor wrapped since the last Sync.
func (b *Buffer) PutOverflowed() bool {
	return b.putOverflowed
}

// Written returns the total number of bytes ever written. The counter
// saturates instead of wrapping.
func (b *Buffer) Written() uint64 {
	return b.written
}

// -----------------------------------------------------------------------------
// Writing
// -----------------------------------------------------------------------------

// Overflow writes c at the put cursor without syncing the get region.
// Reaching the end of the buffer wraps the cursor to the start and marks
// the put side as overflowed.
func (b *Buffer) Overflow(c byte) error {
	if len(b.data) == 0 {
		return exception.InvalidState("cannot write to a circular buffer of zero capacity")
	}
	if b.ppos >= b.Capacity() {
		b.ppos = 0
		b.putOverflowed = true
	}
	b.data[b.ppos] = c
	b.ppos++
	if b.written < math.MaxUint64 {
		b.written++
	}
	return nil
}

// WriteByte writes one byte and syncs.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.Overflow(c); err != nil {
		return err
	}
	b.Sync()
	return nil
}

// Write writes p entirely, overwriting the oldest data if p does not fit,
// and syncs.
func (b *Buffer) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := b.Overflow(c); err != nil {
			b.Sync()
			return i, err
		}
	}
	b.Sync()
	return len(p), nil
}

// Sync extends the readable region up to the put cursor, or to the whole
// buffer if the put cursor wrapped since the last sync, and clears the
// overflow flag. The readable region never shrinks here.
func (b *Buffer) Sync() {
	switch {
	case b.putOverflowed:
		b.gend = b.Capacity()
	case b.ppos > b.gend:
		b.gend = b.ppos
	}
	b.putOverflowed = false
}

// -----------------------------------------------------------------------------
// Reading
// -----------------------------------------------------------------------------

// Underflow returns the byte at the get cursor without advancing it. A get
// cursor at the end of the readable region wraps to the start first.
// ok is false if nothing is readable.
func (b *Buffer) Underflow() (c byte, ok bool) {
	if b.gend == 0 {
		return 0, false
	}
	if b.gpos >= b.gend {
		b.gpos = 0
	}
	return b.data[b.gpos], true
}

// ReadByte reads one byte and advances the get cursor. Returns io.EOF if
// nothing is readable.
func (b *Buffer) ReadByte() (byte, error) {
	c, ok := b.Underflow()
	if !ok {
		return 0, io.EOF
	}
	b.gpos++
	return c, nil
}

// Read fills p from the get cursor, wrapping within the readable region.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.gend == 0 {
		return 0, io.EOF
	}
	for i := range p {
		if b.gpos >= b.gend {
			b.gpos = 0
		}
		p[i] = b.data[b.gpos]
		b.gpos++
	}
	return len(p), nil
}

// -----------------------------------------------------------------------------
// Positioning
// -----------------------------------------------------------------------------

// Seek moves the cursor(s) selected by which.
//
// # Description
//
// Start positions are absolute and must lie within the region of the
// direction: [0, ReadRegion()] for In, [0, Capacity()] for Out. Current and
// End are relative and wrap around the region size when they leave it.
// Both only accepts Start and End since the two cursors have different
// current positions. Each requested direction is validated on its own;
// if any of them is invalid, nothing moves.
//
// # Outputs
//
//   - int64: new get cursor if In was requested, else the new put cursor.
//     -1 on failure.
//   - error: exception OutOfRange or InvalidArgument.
func (b *Buffer) Seek(off int64, whence Whence, which Which) (int64, error) {
	if which&Both == 0 || which&^Both != 0 {
		return -1, exception.InvalidArgument("invalid seek direction %d", int(which))
	}
	if which == Both && whence == Current {
		return -1, exception.InvalidArgument("relative seek from current position is ambiguous for both cursors")
	}

	var newGet, newPut int64
	if which&In != 0 {
		pos, err := seekTarget(off, whence, b.gpos, b.gend)
		if err != nil {
			return -1, exception.OutOfRange("cannot seek get cursor: %v", err)
		}
		newGet = pos
	}
	if which&Out != 0 {
		pos, err := seekTarget(off, whence, b.ppos, b.Capacity())
		if err != nil {
			return -1, exception.OutOfRange("cannot seek put cursor: %v", err)
		}
		newPut = pos
	}

	if which&Out != 0 {
		b.ppos = newPut
	}
	if which&In != 0 {
		b.gpos = newGet
		return newGet, nil
	}
	return newPut, nil
}

// SeekPos moves the cursor(s) to the absolute position pos.
func (b *Buffer) SeekPos(pos int64, which Which) (int64, error) {
	return b.Seek(pos, Start, which)
}

func seekTarget(off int64, whence Whence, cur, size int64) (int64, error) {
	var base int64
	switch whence {
	case Start:
		if off < 0 || off > size {
			return 0, fmt.Errorf("position %d outside region of size %d", off, size)
		}
		return off, nil
	case Current:
		base = cur
	case End:
		base = size
	default:
		return 0, exception.InvalidArgument("invalid seek origin %d", int(whence))
	}

	pos := base + off
	if pos >= 0 && pos <= size {
		return pos, nil
	}
	if size == 0 {
		return 0, fmt.Errorf("position %d outside empty region", pos)
	}
	pos %= size
	if pos < 0 {
		pos += size
	}
	return pos, nil
}

// -----------------------------------------------------------------------------
// Sizing
// -----------------------------------------------------------------------------

// Resize changes the capacity to n bytes. Content within the overlap of the
// old and new size is kept, cursors beyond n are clamped to n. Sizes that
// cannot be expressed as a stream position yield an Overflow error.
func (b *Buffer) Resize(n uint64) error {
	if n > math.MaxInt64 || n > uint64(math.MaxInt) {
		return exception.Overflow("circular buffer size %d exceeds the maximum stream position", n)
	}

	size := int64(n)
	data := make([]byte, size)
	copy(data, b.data)
	b.data = data

	b.gpos = min(b.gpos, size)
	b.gend = min(b.gend, size)
	b.ppos = min(b.ppos, size)
	return nil
}

// Clear moves both cursors to the start and empties the readable region.
func (b *Buffer) Clear() {
	b.gpos = 0
	b.gend = 0
	b.ppos = 0
	b.putOverflowed = false
}
