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
	"encoding/binary"
	"fmt"
)

// FieldMeta is the per-field structure entry.
type FieldMeta struct {
	// Bits is 32 minus the stored width of an
	// uncompressed field; it is negative for
	// fields wider than 32 bits.
	Bits int16
	// Offset is the byte offset of the field
	// within a record.
	Offset uint16
}

// Width returns the stored width in bits
// of an uncompressed value of this field.
func (f FieldMeta) Width() int { return 32 - int(f.Bits) }

// CompressionKind is the on-disk column
// compression discriminant.
type CompressionKind uint32

const (
	KindNone            CompressionKind = 0
	KindImmediate       CompressionKind = 1
	KindCommon          CompressionKind = 2
	KindPallet          CompressionKind = 3
	KindPalletArray     CompressionKind = 4
	KindSignedImmediate CompressionKind = 5
)

func (k CompressionKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindImmediate:
		return "Immediate"
	case KindCommon:
		return "Common"
	case KindPallet:
		return "Pallet"
	case KindPalletArray:
		return "PalletArray"
	case KindSignedImmediate:
		return "SignedImmediate"
	default:
		return fmt.Sprintf("CompressionKind(%d)", uint32(k))
	}
}

// Compression is the decoded compression descriptor
// of a column. The concrete type is one of
// Uncompressed, Immediate, SignedImmediate, Common,
// Pallet, PalletArray, or UnknownCompression.
type Compression interface {
	Kind() CompressionKind
}

// ImmediateParams are the parameters of the
// bit-packed compression kinds.
type ImmediateParams struct {
	BitOffset uint32
	BitWidth  uint32
	Flags     uint32
}

// PalletParams are the parameters of the
// pallet compression kinds.
type PalletParams struct {
	BitOffset   uint32
	BitWidth    uint32
	Cardinality uint32
}

// Uncompressed values are stored verbatim
// with the width given by the FieldMeta.
// The parameter words are kept because the
// decoder falls back to BitWidth when the
// FieldMeta width is not positive.
type Uncompressed struct{ ImmediateParams }

// Immediate values are unsigned bit-packed integers.
type Immediate struct{ ImmediateParams }

// SignedImmediate values are sign-extended bit-packed integers.
type SignedImmediate struct{ ImmediateParams }

// Common columns store only the values that differ
// from Default in a per-column id -> value table.
type Common struct {
	Default uint32
	B, C    uint32
}

// Pallet values are bit-packed indices
// into a per-column value table.
type Pallet struct{ PalletParams }

// PalletArray values are bit-packed indices
// into a per-column table of Cardinality-sized groups.
type PalletArray struct{ PalletParams }

// UnknownCompression is a compression type
// the decoder does not recognize.
type UnknownCompression struct {
	Type uint32
	Raw  [12]byte
}

func (Uncompressed) Kind() CompressionKind    { return KindNone }
func (Immediate) Kind() CompressionKind       { return KindImmediate }
func (SignedImmediate) Kind() CompressionKind { return KindSignedImmediate }
func (Common) Kind() CompressionKind          { return KindCommon }
func (Pallet) Kind() CompressionKind          { return KindPallet }
func (PalletArray) Kind() CompressionKind     { return KindPalletArray }
func (u UnknownCompression) Kind() CompressionKind {
	return CompressionKind(u.Type)
}

// ColumnMeta is the per-field storage descriptor.
type ColumnMeta struct {
	// RecordOffset is the bit offset of the
	// field from the start of a dense record.
	RecordOffset uint16
	// Size is the total size of the field in bits.
	Size uint16
	// AdditionalDataSize is the number of bytes of
	// pallet or common data belonging to this column.
	AdditionalDataSize uint32
	Compression        Compression
}

// Kind returns the column's compression kind.
func (c *ColumnMeta) Kind() CompressionKind {
	if c.Compression == nil {
		return KindNone
	}
	return c.Compression.Kind()
}

func parseFieldMeta(d *decoder) FieldMeta {
	return FieldMeta{Bits: d.i16(), Offset: d.u16()}
}

func parseColumnMeta(d *decoder) ColumnMeta {
	var c ColumnMeta
	c.RecordOffset = d.u16()
	c.Size = d.u16()
	c.AdditionalDataSize = d.u32()
	typ := d.u32()
	raw := d.take(12)
	if raw == nil {
		return c
	}
	w0 := binary.LittleEndian.Uint32(raw[0:])
	w1 := binary.LittleEndian.Uint32(raw[4:])
	w2 := binary.LittleEndian.Uint32(raw[8:])
	imm := ImmediateParams{BitOffset: w0, BitWidth: w1, Flags: w2}
	pal := PalletParams{BitOffset: w0, BitWidth: w1, Cardinality: w2}
	switch CompressionKind(typ) {
	case KindNone:
		c.Compression = Uncompressed{imm}
	case KindImmediate:
		c.Compression = Immediate{imm}
	case KindSignedImmediate:
		c.Compression = SignedImmediate{imm}
	case KindCommon:
		c.Compression = Common{Default: w0, B: w1, C: w2}
	case KindPallet:
		c.Compression = Pallet{pal}
	case KindPalletArray:
		c.Compression = PalletArray{pal}
	default:
		u := UnknownCompression{Type: typ}
		copy(u.Raw[:], raw)
		c.Compression = u
	}
	return c
}

// columnData holds the per-column side tables
// referenced by Pallet, PalletArray, and Common columns.
type columnData struct {
	pallet []uint32
	common map[int32]uint32
}

// splitColumnData carves the pallet and common blobs
// into per-column tables, in column order.
func splitColumnData(cols []ColumnMeta, pallet, common []byte) ([]columnData, error) {
	out := make([]columnData, len(cols))
	for i := range cols {
		c := &cols[i]
		n := int(c.AdditionalDataSize)
		switch c.Kind() {
		case KindPallet, KindPalletArray:
			if n%4 != 0 || n > len(pallet) {
				return nil, corruptf("column %d: pallet data size %d (remaining %d)", i, n, len(pallet))
			}
			vals := make([]uint32, n/4)
			for j := range vals {
				vals[j] = binary.LittleEndian.Uint32(pallet[j*4:])
			}
			out[i].pallet = vals
			pallet = pallet[n:]
		case KindCommon:
			if n%8 != 0 || n > len(common) {
				return nil, corruptf("column %d: common data size %d (remaining %d)", i, n, len(common))
			}
			m := make(map[int32]uint32, n/8)
			for j := 0; j < n; j += 8 {
				id := int32(binary.LittleEndian.Uint32(common[j:]))
				m[id] = binary.LittleEndian.Uint32(common[j+4:])
			}
			out[i].common = m
			common = common[n:]
		}
	}
	return out, nil
}

// synthColumns produces column descriptors for
// files that omit column metadata: every field is
// uncompressed at its FieldMeta byte offset.
func synthColumns(fields []FieldMeta) []ColumnMeta {
	cols := make([]ColumnMeta, len(fields))
	for i := range fields {
		w := fields[i].Width()
		if w < 0 {
			w = 0
		}
		cols[i] = ColumnMeta{
			RecordOffset: fields[i].Offset * 8,
			Size:         uint16(w),
			Compression:  Uncompressed{},
		}
	}
	return cols
}
