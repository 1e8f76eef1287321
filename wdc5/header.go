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

package wdc5

import (
	"bytes"
	"encoding/binary"
)

// Magic is the four-byte file signature.
const Magic = "WDC5"

const (
	headerSize        = 204
	schemaStringSize  = 128
	sectionHeaderSize = 40
	fieldMetaSize     = 4
	columnMetaSize    = 24
)

// Flags are the table-wide format flags.
type Flags uint16

const (
	// FlagSparse indicates variable-width rows
	// described by a per-section sparse entry table.
	FlagSparse Flags = 1 << iota
	// FlagSecondaryKey indicates the table has
	// a secondary key column.
	FlagSecondaryKey
	// FlagIndex indicates row ids are stored in
	// each section's index data rather than in a column.
	FlagIndex
	// FlagReserved is unused.
	FlagReserved
	// FlagBitPacked indicates bit-packed column data.
	FlagBitPacked
)

// Has returns whether all of the bits in x are set in f.
func (f Flags) Has(x Flags) bool { return f&x == x }

// Header is the fixed-size file header.
type Header struct {
	Version           uint32
	Schema            string
	RecordCount       uint32
	FieldCount        uint32
	RecordSize        uint32
	StringTableSize   uint32
	TableHash         uint32
	LayoutHash        uint32
	MinID             int32
	MaxID             int32
	Locale            uint32
	Flags             Flags
	IDIndex           uint16
	TotalFieldCount   uint32
	PackedDataOffset  uint32
	LookupColumnCount uint32
	ColumnMetaSize    uint32
	CommonDataSize    uint32
	PalletDataSize    uint32
	SectionCount      uint32
}

// SectionHeader describes the location and
// shape of one section's payload.
type SectionHeader struct {
	// KeyLookup identifies the key that encrypts
	// the section's records; zero means plaintext.
	KeyLookup            uint64
	FileOffset           int32
	RecordCount          int32
	StringTableSize      int32
	OffsetRecordsEnd     int32
	IndexDataSize        int32
	ParentLookupDataSize int32
	OffsetMapIDCount     int32
	CopyTableCount       int32
}

// decoder is a little-endian cursor with a sticky
// truncation error, used for the fixed-layout parts
// of the file.
type decoder struct {
	buf   []byte
	off   int
	short bool
}

func (d *decoder) take(n int) []byte {
	if d.short || n < 0 || n > len(d.buf)-d.off {
		d.short = true
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) i16() int16 { return int16(d.u16()) }

func parseHeader(d *decoder) (Header, error) {
	var h Header
	magic := d.take(4)
	if magic == nil {
		return h, corruptf("file too short for header (%d bytes)", len(d.buf))
	}
	if string(magic) != Magic {
		return h, corruptf("bad magic %q", magic)
	}
	h.Version = d.u32()
	schema := d.take(schemaStringSize)
	if i := bytes.IndexByte(schema, 0); i >= 0 {
		schema = schema[:i]
	}
	h.Schema = string(schema)
	h.RecordCount = d.u32()
	h.FieldCount = d.u32()
	h.RecordSize = d.u32()
	h.StringTableSize = d.u32()
	h.TableHash = d.u32()
	h.LayoutHash = d.u32()
	h.MinID = d.i32()
	h.MaxID = d.i32()
	h.Locale = d.u32()
	h.Flags = Flags(d.u16())
	h.IDIndex = d.u16()
	h.TotalFieldCount = d.u32()
	h.PackedDataOffset = d.u32()
	h.LookupColumnCount = d.u32()
	h.ColumnMetaSize = d.u32()
	h.CommonDataSize = d.u32()
	h.PalletDataSize = d.u32()
	h.SectionCount = d.u32()
	if d.short {
		return h, corruptf("file too short for header (%d bytes)", len(d.buf))
	}
	return h, nil
}

func parseSectionHeader(d *decoder) SectionHeader {
	return SectionHeader{
		KeyLookup:            d.u64(),
		FileOffset:           d.i32(),
		RecordCount:          d.i32(),
		StringTableSize:      d.i32(),
		OffsetRecordsEnd:     d.i32(),
		IndexDataSize:        d.i32(),
		ParentLookupDataSize: d.i32(),
		OffsetMapIDCount:     d.i32(),
		CopyTableCount:       d.i32(),
	}
}

// validate checks the header fields that do not
// depend on the section headers.
func (h *Header) validate(size int) error {
	if h.TotalFieldCount < h.FieldCount {
		return corruptf("total field count %d < field count %d", h.TotalFieldCount, h.FieldCount)
	}
	if h.ColumnMetaSize%columnMetaSize != 0 {
		return corruptf("column metadata size %d not a multiple of %d", h.ColumnMetaSize, columnMetaSize)
	}
	if n := h.ColumnMetaSize / columnMetaSize; n != 0 && n != h.FieldCount {
		return corruptf("%d column descriptors for %d fields", n, h.FieldCount)
	}
	// every size below is bounded by the file itself
	for _, sz := range []uint32{
		h.ColumnMetaSize,
		h.CommonDataSize,
		h.PalletDataSize,
	} {
		if uint64(sz) > uint64(size) {
			return corruptf("declared size %d exceeds file size %d", sz, size)
		}
	}
	if uint64(h.SectionCount) > uint64(size)/sectionHeaderSize {
		return corruptf("section count %d exceeds file size %d", h.SectionCount, size)
	}
	if uint64(h.TotalFieldCount) > uint64(size)/fieldMetaSize {
		return corruptf("field count %d exceeds file size %d", h.TotalFieldCount, size)
	}
	return nil
}
