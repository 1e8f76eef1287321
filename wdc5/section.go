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

	"github.com/Seriousnes/MimironSQL-sub003/ints"
)

// SparseEntry locates one variable-width record.
// Offset is an absolute file offset.
type SparseEntry struct {
	Offset uint32
	Size   uint16
}

// Section is the decoded payload of one SectionHeader.
// Sections are immutable once the Table is open.
type Section struct {
	Header SectionHeader

	// Records is the raw record blob.
	Records []byte
	// RecordBase is the byte offset of Records within
	// the concatenation of every section's record blob.
	RecordBase int
	// BaseIndex is the global record index
	// of the first record in this section.
	BaseIndex int
	// Strings is the section's slice of the dense
	// string table; StringTableBase is its offset within
	// the concatenation of every section's string table.
	Strings         []byte
	StringTableBase int
	// IndexData holds the row ids when the
	// file stores ids outside of the records.
	IndexData []int32
	// CopyTable maps the id of a copied
	// row to the id of its source row.
	CopyTable map[int32]int32
	// ParentLookup maps an in-section record
	// index to the id of its parent row.
	ParentLookup map[int]int32
	// SparseEntries and SparseIDs are only
	// present in sparse files.
	SparseEntries []SparseEntry
	SparseIDs     []int32

	starts []int   // sparse: start bit of each row within Records
	ids    []int32 // physical id of each row
	key    []byte
}

// IsEncrypted returns whether the section's records are encrypted.
func (s *Section) IsEncrypted() bool { return s.Header.KeyLookup != 0 }

// IsDecryptable returns whether the section is encrypted
// and a key for it was supplied when the table was opened.
func (s *Section) IsDecryptable() bool { return s.IsEncrypted() && len(s.key) > 0 }

// RowCount returns the number of physical rows in the section.
func (s *Section) RowCount() int { return int(s.Header.RecordCount) }

// RowStart returns the bit position of row i within Records.
// For dense sections it is i*RecordSize*8.
func (s *Section) RowStart(i, recordSize int) int {
	if s.starts != nil {
		return s.starts[i]
	}
	return i * recordSize * 8
}

// rowBytes returns the bytes of row i.
func (s *Section) rowBytes(i, recordSize int) []byte {
	if s.starts != nil {
		start := s.starts[i] >> 3
		return s.Records[start : start+int(s.SparseEntries[i].Size)]
	}
	return s.Records[i*recordSize : (i+1)*recordSize]
}

// ID returns the physical id of row i.
func (s *Section) ID(i int) int32 { return s.ids[i] }

// parseSection decodes the payload of one section.
// The payload begins at hdr.FileOffset and its
// blocks appear in this order: records, string table
// (dense only), index data, copy table, sparse entries,
// parent lookup, sparse id list.
func parseSection(data []byte, hdr *SectionHeader, th *Header, idx int) (*Section, error) {
	s := &Section{Header: *hdr}
	sparse := th.Flags.Has(FlagSparse)
	for _, v := range []int32{
		hdr.FileOffset, hdr.RecordCount, hdr.StringTableSize,
		hdr.IndexDataSize, hdr.ParentLookupDataSize,
		hdr.OffsetMapIDCount, hdr.CopyTableCount,
	} {
		if v < 0 {
			return nil, corruptf("section %d: negative size or offset %d", idx, v)
		}
	}
	if int(hdr.FileOffset) > len(data) {
		return nil, corruptf("section %d: offset %d past end of file", idx, hdr.FileOffset)
	}
	d := &decoder{buf: data, off: int(hdr.FileOffset)}

	var recLen int
	if sparse {
		recLen = int(hdr.OffsetRecordsEnd) - int(hdr.FileOffset)
		if recLen < 0 {
			return nil, corruptf("section %d: records end %d before section offset %d", idx, hdr.OffsetRecordsEnd, hdr.FileOffset)
		}
	} else {
		n := int64(hdr.RecordCount) * int64(th.RecordSize)
		if n > int64(len(data)) {
			return nil, corruptf("section %d: %d records of %d bytes exceed file size", idx, hdr.RecordCount, th.RecordSize)
		}
		recLen = int(n)
	}
	s.Records = d.take(recLen)
	if !sparse {
		s.Strings = d.take(int(hdr.StringTableSize))
	}
	if d.short {
		return nil, corruptf("section %d: record data truncated", idx)
	}

	if hdr.IndexDataSize%4 != 0 {
		return nil, corruptf("section %d: index data size %d not a multiple of 4", idx, hdr.IndexDataSize)
	}
	if hdr.IndexDataSize > 0 {
		raw := d.take(int(hdr.IndexDataSize))
		s.IndexData = make([]int32, len(raw)/4)
		for i := range s.IndexData {
			s.IndexData[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}

	if hdr.CopyTableCount > 0 {
		raw := d.take(int(hdr.CopyTableCount) * 8)
		if raw == nil {
			return nil, corruptf("section %d: copy table truncated", idx)
		}
		s.CopyTable = make(map[int32]int32, len(raw)/8)
		for i := 0; i+8 <= len(raw); i += 8 {
			dst := int32(binary.LittleEndian.Uint32(raw[i:]))
			s.CopyTable[dst] = int32(binary.LittleEndian.Uint32(raw[i+4:]))
		}
	}

	if hdr.OffsetMapIDCount > 0 {
		raw := d.take(int(hdr.OffsetMapIDCount) * 6)
		s.SparseEntries = make([]SparseEntry, len(raw)/6)
		for i := range s.SparseEntries {
			s.SparseEntries[i] = SparseEntry{
				Offset: binary.LittleEndian.Uint32(raw[i*6:]),
				Size:   binary.LittleEndian.Uint16(raw[i*6+4:]),
			}
		}
	}

	if hdr.ParentLookupDataSize > 0 {
		raw := d.take(int(hdr.ParentLookupDataSize))
		if raw == nil {
			return nil, corruptf("section %d: parent lookup truncated", idx)
		}
		pl, err := parseParentLookup(raw)
		if err != nil {
			return nil, corruptf("section %d: %s", idx, err)
		}
		s.ParentLookup = pl
	}

	if hdr.OffsetMapIDCount > 0 {
		raw := d.take(int(hdr.OffsetMapIDCount) * 4)
		s.SparseIDs = make([]int32, len(raw)/4)
		for i := range s.SparseIDs {
			s.SparseIDs[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	if d.short {
		return nil, corruptf("section %d: payload truncated", idx)
	}

	if sparse {
		if err := s.layoutSparse(idx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseParentLookup(raw []byte) (map[int]int32, error) {
	if len(raw) < 12 {
		return nil, fmt.Errorf("parent lookup: %d bytes is too short", len(raw))
	}
	n := binary.LittleEndian.Uint32(raw)
	// min and max id at raw[4:12] are not needed
	raw = raw[12:]
	if uint64(n)*8 > uint64(len(raw)) {
		return nil, fmt.Errorf("parent lookup: %d entries in %d bytes", n, len(raw))
	}
	m := make(map[int]int32, n)
	for i := 0; i < int(n); i++ {
		parent := int32(binary.LittleEndian.Uint32(raw[i*8:]))
		rec := binary.LittleEndian.Uint32(raw[i*8+4:])
		m[int(rec)] = parent
	}
	return m, nil
}

// layoutSparse computes the start bit of each sparse row.
// When every entry has a zero offset the rows are packed
// back to back; otherwise each offset must fall inside
// the section and offsets must not decrease.
func (s *Section) layoutSparse(idx int) error {
	if len(s.SparseEntries) != s.RowCount() {
		return corruptf("section %d: %d sparse entries for %d records", idx, len(s.SparseEntries), s.RowCount())
	}
	s.starts = make([]int, len(s.SparseEntries))
	zero := true
	for i := range s.SparseEntries {
		if s.SparseEntries[i].Offset != 0 {
			zero = false
			break
		}
	}
	blob := ints.Interval{Start: 0, End: len(s.Records)}
	if zero {
		pos := 0
		for i := range s.SparseEntries {
			size := int(s.SparseEntries[i].Size)
			if !blob.Covers(pos, pos+size) {
				return corruptf("section %d: row %d ends at %d past records end %d", idx, i, pos+size, len(s.Records))
			}
			s.starts[i] = pos * 8
			pos += size
		}
		return nil
	}
	base := int(s.Header.FileOffset)
	prev := 0
	for i := range s.SparseEntries {
		e := &s.SparseEntries[i]
		off := int(e.Offset)
		if off < prev {
			return corruptf("section %d: sparse offsets not sorted at row %d (%d < %d)", idx, i, off, prev)
		}
		prev = off
		start := off - base
		if !blob.Covers(start, start+int(e.Size)) {
			return corruptf("section %d: row %d span [%d, %d) outside section [%d, %d)",
				idx, i, off, off+int(e.Size), base, base+len(s.Records))
		}
		s.starts[i] = start * 8
	}
	return nil
}
