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

	"github.com/Seriousnes/MimironSQL-sub003/internal/salsa20"
)

// bitWriter packs values LSB-first,
// the inverse of bitio.Reader.
type bitWriter struct {
	out []byte
	pos int
}

func (w *bitWriter) put(v uint64, n int) {
	for i := 0; i < n; i++ {
		if w.pos/8 >= len(w.out) {
			w.out = append(w.out, 0)
		}
		if v&(uint64(1)<<uint(i)) != 0 {
			w.out[w.pos/8] |= 1 << uint(w.pos%8)
		}
		w.pos++
	}
}

func (w *bitWriter) cstring(s string) {
	w.pos = (w.pos + 7) &^ 7
	for len(w.out) < w.pos/8 {
		w.out = append(w.out, 0)
	}
	w.out = append(w.out, s...)
	w.out = append(w.out, 0)
	w.pos = len(w.out) * 8
}

// bytes returns the packed bits padded to size bytes.
func (w *bitWriter) bytes(size int) []byte {
	for len(w.out) < size {
		w.out = append(w.out, 0)
	}
	return w.out
}

type testColumn struct {
	bits   int16
	offset uint16
	recOff uint16
	size   uint16
	kind   CompressionKind
	params [3]uint32
	pallet []uint32
	common [][2]uint32 // {id, value}
}

type testSection struct {
	rows      [][]byte
	ids       []int32 // index data
	sparseIDs []int32
	strings   []byte
	copies    [][2]int32  // {new id, source id}
	parents   [][2]uint32 // {parent id, record index}

	keyLookup   uint64
	encKey      []byte   // encrypt rows with this key
	nonceIDs    []int32  // defaults to ids, then sparseIDs
	zeroOffsets bool     // write all-zero sparse offsets
	offsets     []uint32 // if set, written as the sparse offsets
}

type testFile struct {
	flags        Flags
	recordSize   int
	idIndex      uint16
	columns      []testColumn
	noColumnMeta bool
	sections     []testSection
}

type leWriter struct{ buf []byte }

func (w *leWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *leWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *leWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *leWriter) i32(v int32) { w.u32(uint32(v)) }

func encryptRow(key []byte, id int32, row []byte) []byte {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], uint64(uint32(id)))
	c, err := salsa20.New(key, nonce[:])
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(row))
	c.XORKeyStream(out, row)
	return out
}

func (s *testSection) nonceID(i int) int32 {
	switch {
	case s.nonceIDs != nil:
		return s.nonceIDs[i]
	case s.ids != nil:
		return s.ids[i]
	default:
		return s.sparseIDs[i]
	}
}

func (f *testFile) build() []byte {
	sparse := f.flags.Has(FlagSparse)
	var pallet, common leWriter
	for _, c := range f.columns {
		for _, v := range c.pallet {
			pallet.u32(v)
		}
		for _, kv := range c.common {
			common.u32(kv[0])
			common.u32(kv[1])
		}
	}
	metaEnd := headerSize + sectionHeaderSize*len(f.sections) + fieldMetaSize*len(f.columns)
	if !f.noColumnMeta {
		metaEnd += columnMetaSize * len(f.columns)
	}
	metaEnd += len(pallet.buf) + len(common.buf)

	hdrs := make([]SectionHeader, len(f.sections))
	var body []byte
	off := metaEnd
	records, strsize := 0, 0
	for i := range f.sections {
		s := &f.sections[i]
		var recs []byte
		var sizes []int
		for j, row := range s.rows {
			if s.encKey != nil {
				row = encryptRow(s.encKey, s.nonceID(j), row)
			}
			recs = append(recs, row...)
			sizes = append(sizes, len(row))
		}
		h := SectionHeader{
			KeyLookup:   s.keyLookup,
			FileOffset:  int32(off),
			RecordCount: int32(len(s.rows)),
		}
		p := leWriter{buf: recs}
		if sparse {
			h.OffsetRecordsEnd = int32(off + len(recs))
		} else {
			p.buf = append(p.buf, s.strings...)
			h.StringTableSize = int32(len(s.strings))
			strsize += len(s.strings)
		}
		records += len(s.rows)
		for _, id := range s.ids {
			p.i32(id)
		}
		h.IndexDataSize = int32(4 * len(s.ids))
		for _, c := range s.copies {
			p.i32(c[0])
			p.i32(c[1])
		}
		h.CopyTableCount = int32(len(s.copies))
		if sparse {
			h.OffsetMapIDCount = int32(len(s.rows))
			pos := off
			for j, size := range sizes {
				if s.offsets != nil {
					p.u32(s.offsets[j])
				} else if s.zeroOffsets {
					p.u32(0)
				} else {
					p.u32(uint32(pos))
				}
				p.u16(uint16(size))
				pos += size
			}
		}
		if len(s.parents) > 0 {
			p.u32(uint32(len(s.parents)))
			p.u32(0)
			p.u32(0)
			for _, e := range s.parents {
				p.u32(e[0])
				p.u32(e[1])
			}
			h.ParentLookupDataSize = int32(12 + 8*len(s.parents))
		}
		if sparse {
			for j := range s.rows {
				var id int32
				if j < len(s.sparseIDs) {
					id = s.sparseIDs[j]
				}
				p.i32(id)
			}
		}
		hdrs[i] = h
		body = append(body, p.buf...)
		off += len(p.buf)
	}

	var w leWriter
	w.buf = append(w.buf, Magic...)
	w.u32(5)
	var schema [schemaStringSize]byte
	copy(schema[:], "test schema")
	w.buf = append(w.buf, schema[:]...)
	w.u32(uint32(records))
	w.u32(uint32(len(f.columns)))
	w.u32(uint32(f.recordSize))
	w.u32(uint32(strsize))
	w.u32(0xdeadbeef) // table hash
	w.u32(0xfeedface) // layout hash
	w.i32(0)          // min id
	w.i32(0)          // max id
	w.u32(0)          // locale
	w.u16(uint16(f.flags))
	w.u16(f.idIndex)
	w.u32(uint32(len(f.columns)))
	w.u32(0) // packed data offset
	w.u32(0) // lookup columns
	if f.noColumnMeta {
		w.u32(0)
	} else {
		w.u32(uint32(columnMetaSize * len(f.columns)))
	}
	w.u32(uint32(len(common.buf)))
	w.u32(uint32(len(pallet.buf)))
	w.u32(uint32(len(f.sections)))
	if len(w.buf) != headerSize {
		panic("bad header size")
	}
	for _, h := range hdrs {
		w.u64(h.KeyLookup)
		w.i32(h.FileOffset)
		w.i32(h.RecordCount)
		w.i32(h.StringTableSize)
		w.i32(h.OffsetRecordsEnd)
		w.i32(h.IndexDataSize)
		w.i32(h.ParentLookupDataSize)
		w.i32(h.OffsetMapIDCount)
		w.i32(h.CopyTableCount)
	}
	for _, c := range f.columns {
		w.u16(uint16(c.bits))
		w.u16(c.offset)
	}
	if !f.noColumnMeta {
		for _, c := range f.columns {
			w.u16(c.recOff)
			w.u16(c.size)
			w.u32(uint32(4*len(c.pallet) + 8*len(c.common)))
			w.u32(uint32(c.kind))
			w.u32(c.params[0])
			w.u32(c.params[1])
			w.u32(c.params[2])
		}
	}
	w.buf = append(w.buf, pallet.buf...)
	w.buf = append(w.buf, common.buf...)
	if len(w.buf) != metaEnd {
		panic("bad metadata size")
	}
	return append(w.buf, body...)
}

// int32Column is a plain 32-bit uncompressed column at recOff.
func int32Column(recOff uint16) testColumn {
	return testColumn{bits: 0, offset: recOff / 8, recOff: recOff, size: 32, kind: KindNone}
}

// le32 returns a 4-byte little-endian row.
func le32(vals ...uint32) []byte {
	var w leWriter
	for _, v := range vals {
		w.u32(v)
	}
	return w.buf
}
