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

// Package compr wraps the third-party compression
// libraries used for compressed table files.
//
// Tables are compressed whole: a .zst file is a
// zstd stream and a .s2 file is a single s2 block.
package compr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// MaxDecodedSize is the largest decompressed
// file the decompressors will produce.
// Table offsets are 32 bits wide.
const MaxDecodedSize = 1<<32 - 1

// ErrTooLarge is returned when the decompressed
// size of a file would exceed MaxDecodedSize.
var ErrTooLarge = errors.New("compr: decompressed size too large")

// Compressor describes a whole-file
// compression algorithm.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress should append the compressed contents
	// of src to dst and return the result.
	Compress(src, dst []byte) []byte
}

// Decompressor is the inverse of Compressor.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	// See also Compressor.Name.
	Name() string
	// DecodeAll appends the decompressed contents
	// of src to dst and returns the result.
	//
	// It must be safe to make multiple
	// calls to DecodeAll simultaneously
	// from different goroutines.
	DecodeAll(src, dst []byte) ([]byte, error)
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z zstdCompressor) Name() string { return "zstd" }

var zstdDecoder *zstd.Decoder

func init() {
	// by default, concurrency is set to min(4, GOMAXPROCS);
	// we'd like it to *always* be GOMAXPROCS
	z, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)),
		zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type zstdDecompressor zstd.Decoder

func (z *zstdDecompressor) Name() string { return "zstd" }

func (z *zstdDecompressor) DecodeAll(src, dst []byte) ([]byte, error) {
	ret, err := (*zstd.Decoder)(z).DecodeAll(src, dst)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return ret, nil
}

type s2Compressor struct{}

func (s2Compressor) Compress(src, dst []byte) []byte {
	tail := dst[len(dst):cap(dst)]
	// s2 requires non-overlapping src and dst
	if overlaps(src, tail) {
		tail = nil
	}
	got := s2.Encode(tail, src)
	if len(dst) == 0 {
		return got
	}
	if len(tail) > 0 && len(got) > 0 && &tail[0] == &got[0] {
		return dst[:len(dst)+len(got)]
	}
	return append(dst, got...)
}

func (s2Compressor) DecodeAll(src, dst []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("s2 decompress: %w", err)
	}
	if uint64(n) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	// decode directly into the tail of dst
	// when it has the capacity
	base := len(dst)
	if cap(dst)-base < n {
		grown := make([]byte, base, base+n)
		copy(grown, dst)
		dst = grown
	}
	into := dst[base : base+n]
	ret, err := s2.Decode(into, src)
	if err != nil {
		return nil, fmt.Errorf("s2 decompress: %w", err)
	}
	if len(ret) != n {
		return nil, fmt.Errorf("s2 decompress: expected %d bytes; got %d", n, len(ret))
	}
	return dst[:base+n], nil
}

func (s2Compressor) Name() string { return "s2" }

// Compression selects a compression algorithm by name.
// The returned Compressor will return the same value
// for Compressor.Name as the specified name.
func Compression(name string) Compressor {
	switch name {
	case "zstd-better":
		z, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1))
		return zstdCompressor{z}
	case "zstd":
		z, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return zstdCompressor{z}
	case "s2":
		return s2Compressor{}
	default:
		return nil
	}
}

// Decompression selects a decompression algorithm by name.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd", "zstd-better":
		return (*zstdDecompressor)(zstdDecoder)
	case "s2":
		return s2Compressor{}
	default:
		return nil
	}
}

// Extensions lists the file extensions recognized by
// ForPath, in the order they are tried.
var Extensions = []string{".zst", ".s2"}

// ForPath returns the decompressor implied by the
// extension of path, or nil if path is not compressed.
func ForPath(path string) Decompressor {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return Decompression("zstd")
	case strings.HasSuffix(path, ".s2"):
		return Decompression("s2")
	default:
		return nil
	}
}

func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	a0 := uintptr(unsafe.Pointer(&a[0]))
	a1 := a0 + uintptr(len(a))
	b0 := uintptr(unsafe.Pointer(&b[0]))
	b1 := b0 + uintptr(len(b))
	return a0 < b1 && b0 < a1
}
