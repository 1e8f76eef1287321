// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package bitio implements a little-endian bit cursor
// over an in-memory byte buffer.
//
// Values are packed least-significant bit first:
// bit 0 of a value is bit (pos % 8) of byte (pos / 8).
// Multi-byte values therefore read the same way
// a little-endian integer would when they happen
// to be byte-aligned.
package bitio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/Seriousnes/MimironSQL-sub003/ints"
)

var (
	// ErrWidth is returned when a read requests
	// more than 64 bits (or a negative count).
	ErrWidth = errors.New("bitio: invalid bit width")
	// ErrUnterminated is returned by ReadCString
	// when no NUL byte is found before the end of the buffer.
	ErrUnterminated = errors.New("bitio: unterminated string")
	// ErrInvalidUTF8 is returned by ReadCString
	// when the string bytes are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("bitio: invalid utf-8")
)

// Reader is a cursor over a byte buffer.
// The zero value is an empty reader.
//
// A Reader never reads outside of its buffer;
// reads that would run past the end of the
// buffer return io.ErrUnexpectedEOF and
// leave the cursor unchanged.
type Reader struct {
	buf []byte
	pos int // in bits
}

// NewReader returns a Reader positioned at bit 0 of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Reset repositions r at bit 0 of buf.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.pos = 0
}

// Pos returns the current position in bits.
func (r *Reader) Pos() int { return r.pos }

// Len returns the size of the buffer in bits.
func (r *Reader) Len() int { return len(r.buf) * 8 }

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int { return r.Len() - r.pos }

// Seek moves the cursor to an absolute bit position.
func (r *Reader) Seek(bit int) error {
	if bit < 0 || bit > r.Len() {
		return fmt.Errorf("bitio.Reader.Seek: position %d outside [0, %d]", bit, r.Len())
	}
	r.pos = bit
	return nil
}

// Skip advances the cursor by n bits.
func (r *Reader) Skip(n int) error {
	if n < 0 || n > r.Remaining() {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// Align moves the cursor forward to the next byte boundary.
func (r *Reader) Align() {
	r.pos = ints.AlignUp(r.pos, 8)
	if r.pos > r.Len() {
		r.pos = r.Len()
	}
}

// load64 returns the 8 bytes starting at off as
// a little-endian word, zero-filling any bytes
// past the end of the buffer.
func (r *Reader) load64(off int) uint64 {
	if off+8 <= len(r.buf) {
		return binary.LittleEndian.Uint64(r.buf[off:])
	}
	var tmp [8]byte
	if off < len(r.buf) {
		copy(tmp[:], r.buf[off:])
	}
	return binary.LittleEndian.Uint64(tmp[:])
}

// ReadUint reads the next n bits as an unsigned integer.
// ReadUint(0) returns 0 and does not move the cursor.
func (r *Reader) ReadUint(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, fmt.Errorf("%w: %d", ErrWidth, n)
	}
	if n == 0 {
		return 0, nil
	}
	if n > r.Remaining() {
		return 0, io.ErrUnexpectedEOF
	}
	off := r.pos >> 3
	shift := uint(r.pos & 7)
	v := r.load64(off) >> shift
	if shift+uint(n) > 64 {
		// the value straddles a ninth byte;
		// it exists because n <= Remaining()
		v |= uint64(r.buf[off+8]) << (64 - shift)
	}
	r.pos += n
	return v & ints.Mask(n), nil
}

// ReadSigned reads the next n bits and sign-extends
// the result from bit n-1. n must be in [1, 64].
func (r *Reader) ReadSigned(n int) (int64, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: signed read of 0 bits", ErrWidth)
	}
	v, err := r.ReadUint(n)
	if err != nil {
		return 0, err
	}
	return ints.SignExtend(v, n), nil
}

// cstring returns the bytes from the next byte
// boundary up to (not including) the next NUL.
func (r *Reader) cstring() ([]byte, int, error) {
	start := ints.AlignUp(r.pos, 8) >> 3
	if start >= len(r.buf) {
		return nil, 0, ErrUnterminated
	}
	end := bytes.IndexByte(r.buf[start:], 0)
	if end < 0 {
		return nil, 0, ErrUnterminated
	}
	return r.buf[start : start+end], (start + end + 1) * 8, nil
}

// ReadCString reads a NUL-terminated string starting at
// the next byte boundary and advances the cursor past the
// terminator. The string must be valid UTF-8.
// On error the cursor does not move.
func (r *Reader) ReadCString() (string, error) {
	b, next, err := r.cstring()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	r.pos = next
	return string(b), nil
}

// SkipCString advances the cursor past the next NUL
// byte without validating the skipped bytes.
func (r *Reader) SkipCString() error {
	_, next, err := r.cstring()
	if err != nil {
		return err
	}
	r.pos = next
	return nil
}
