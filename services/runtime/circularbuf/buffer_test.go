// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package circularbuf

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

func newBuffer(t *testing.T, capacity uint64) *Buffer {
	t.Helper()
	b, err := New(capacity)
	require.NoError(t, err)
	return b
}

func TestBuffer_WriteThenRead(t *testing.T) {
	b := newBuffer(t, 8)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), b.ReadRegion())
	assert.Equal(t, int64(3), b.PutPos())
	assert.Equal(t, uint64(3), b.Written())

	c, ok := b.Underflow()
	require.True(t, ok)
	assert.Equal(t, byte('a'), c)
	assert.Equal(t, int64(0), b.GetPos(), "underflow must not advance")

	out := make([]byte, 3)
	_, err = b.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}

func TestBuffer_Wraparound(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint64
		extra    int
	}{
		{"exact fill", 4, 0},
		{"one past", 4, 1},
		{"almost twice", 5, 4},
		{"single byte", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuffer(t, tt.capacity)
			c := int(tt.capacity)

			for i := 0; i < c+tt.extra; i++ {
				require.NoError(t, b.WriteByte(byte(i)))
				assert.Equal(t, int64(c), b.Capacity(), "put region size is invariant")
			}
			assert.Equal(t, int64(c), b.ReadRegion())

			_, err := b.SeekPos(b.PutPos()%b.ReadRegion(), In)
			require.NoError(t, err)

			got := make([]byte, c)
			_, err = b.Read(got)
			require.NoError(t, err)

			want := make([]byte, c)
			for i := range want {
				want[i] = byte(tt.extra + i)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestBuffer_OverflowFlagClearedBySync(t *testing.T) {
	b := newBuffer(t, 2)
	require.NoError(t, b.Overflow('a'))
	require.NoError(t, b.Overflow('b'))
	assert.False(t, b.PutOverflowed())
	require.NoError(t, b.Overflow('c'))
	assert.True(t, b.PutOverflowed())
	assert.Equal(t, int64(0), b.ReadRegion(), "region only moves on sync")

	b.Sync()
	assert.False(t, b.PutOverflowed())
	assert.Equal(t, int64(2), b.ReadRegion())

	require.NoError(t, b.WriteByte('d'))
	assert.Equal(t, int64(2), b.ReadRegion(), "region never shrinks on sync")
}

func TestBuffer_ReadEmpty(t *testing.T) {
	b := newBuffer(t, 4)

	_, ok := b.Underflow()
	assert.False(t, ok)
	_, err := b.ReadByte()
	assert.Equal(t, io.EOF, err)
	n, err := b.Read(make([]byte, 2))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestBuffer_ReadWrapsWithinRegion(t *testing.T) {
	b := newBuffer(t, 8)
	_, err := b.Write([]byte("xy"))
	require.NoError(t, err)

	got := make([]byte, 5)
	_, err = b.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "xyxyx", string(got))
}

func TestBuffer_ZeroCapacity(t *testing.T) {
	b := newBuffer(t, 0)
	err := b.WriteByte('a')
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidState))
}

func TestBuffer_Seek(t *testing.T) {
	tests := []struct {
		name    string
		off     int64
		whence  Whence
		which   Which
		wantPos int64
		wantGet int64
		wantPut int64
		wantErr error
	}{
		{"get absolute", 2, Start, In, 2, 2, 6, nil},
		{"get absolute past region", 7, Start, In, -1, 1, 6, exception.ErrOutOfRange},
		{"get relative wraps", 7, Current, In, 2, 2, 6, nil},
		{"get relative backward wraps", -2, Current, In, 5, 5, 6, nil},
		{"get end", 0, End, In, 6, 6, 6, nil},
		{"put absolute", 3, Start, Out, 3, 1, 3, nil},
		{"put end wraps", 2, End, Out, 2, 1, 2, nil},
		{"put relative backward", -6, Current, Out, 0, 1, 0, nil},
		{"both absolute", 4, Start, Both, 4, 4, 4, nil},
		{"both absolute invalid for get", 7, Start, Both, -1, 1, 6, exception.ErrOutOfRange},
		{"both relative current", 1, Current, Both, -1, 1, 6, exception.ErrInvalidArgument},
		{"invalid direction", 0, Start, Which(0), -1, 1, 6, exception.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuffer(t, 8)
			_, err := b.Write([]byte("012345"))
			require.NoError(t, err)
			_, err = b.ReadByte()
			require.NoError(t, err)

			pos, err := b.Seek(tt.off, tt.whence, tt.which)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantPos, pos)
			assert.Equal(t, tt.wantGet, b.GetPos())
			assert.Equal(t, tt.wantPut, b.PutPos())
		})
	}
}

func TestBuffer_SeekEmptyRegion(t *testing.T) {
	b := newBuffer(t, 4)

	pos, err := b.Seek(0, End, In)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	_, err = b.Seek(1, Current, In)
	assert.True(t, errors.Is(err, exception.ErrOutOfRange))
}

func TestBuffer_ResizeGrowPreservesReadableBytes(t *testing.T) {
	b := newBuffer(t, 4)
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, b.Resize(16))
	assert.Equal(t, int64(16), b.Capacity())
	assert.Equal(t, int64(3), b.ReadRegion())
	assert.Equal(t, int64(3), b.PutPos())

	got := make([]byte, 3)
	_, err = b.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestBuffer_ResizeShrinkClamps(t *testing.T) {
	b := newBuffer(t, 8)
	_, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = b.SeekPos(5, In)
	require.NoError(t, err)

	require.NoError(t, b.Resize(3))
	assert.Equal(t, int64(3), b.GetPos())
	assert.Equal(t, int64(3), b.ReadRegion())
	assert.Equal(t, int64(3), b.PutPos())

	c, err := b.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), c)
}

func TestBuffer_ResizeOverflow(t *testing.T) {
	b := newBuffer(t, 4)
	err := b.Resize(math.MaxUint64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrOverflow))
	assert.Equal(t, int64(4), b.Capacity(), "failed resize keeps the buffer")

	_, err = New(uint64(math.MaxInt64) + 1)
	assert.True(t, errors.Is(err, exception.ErrOverflow))
}

func TestBuffer_Clear(t *testing.T) {
	b := newBuffer(t, 4)
	_, err := b.Write([]byte("abcde"))
	require.NoError(t, err)

	b.Clear()
	assert.Equal(t, int64(0), b.GetPos())
	assert.Equal(t, int64(0), b.PutPos())
	assert.Equal(t, int64(0), b.ReadRegion())
	assert.False(t, b.PutOverflowed())
	assert.Equal(t, uint64(5), b.Written(), "total written survives clear")

	_, err = b.ReadByte()
	assert.Equal(t, io.EOF, err)
}
