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
	"errors"
	"math"

	"github.com/Seriousnes/MimironSQL-sub003/bitio"
	"github.com/Seriousnes/MimironSQL-sub003/diag"
	"github.com/Seriousnes/MimironSQL-sub003/ints"
)

// denseOffset reads the string offset stored in
// field of a dense row. ok is false for sparse tables.
func (t *Table) denseOffset(h RowHandle, field int) (*column, int32, bool, error) {
	if t.IsSparse() {
		return nil, 0, false, nil
	}
	c, err := t.column(field)
	if err != nil {
		return nil, 0, false, err
	}
	off, err := ReadField[int32](t, h, field)
	if err != nil {
		return nil, 0, false, err
	}
	return c, off, true, nil
}

// stringIndex converts a field's string offset into
// an index into the dense string table. The offset is
// relative to the field's own position in the
// concatenation of all record blobs, which the string
// table immediately follows.
func (t *Table) stringIndex(h RowHandle, c *column, off int32) (int, bool) {
	s := t.sections[h.Section]
	global := int64(s.BaseIndex + h.Index)
	idx := global*int64(t.header.RecordSize) -
		int64(t.recordBytes) +
		int64(c.meta.RecordOffset/8) +
		int64(off)
	if idx < 0 || idx > math.MaxInt32 {
		return 0, false
	}
	span := ints.Interval{Start: s.StringTableBase, End: s.StringTableBase + len(s.Strings)}
	if !span.Contains(int(idx)) {
		return 0, false
	}
	return int(idx), true
}

// TryGetDenseStringTableIndex returns the index into
// StringTable of the string referenced by field of row h.
// It reports false for sparse tables, for rows with no
// string (offset <= 0), and for offsets that do not land
// inside the row's section of the string table.
func (t *Table) TryGetDenseStringTableIndex(h RowHandle, field int) (int, bool, error) {
	c, off, ok, err := t.denseOffset(h, field)
	if !ok || err != nil || off <= 0 {
		return 0, false, err
	}
	idx, ok := t.stringIndex(h, c, off)
	return idx, ok, nil
}

// TryGetDenseString resolves field of row h through the
// dense string table. A zero offset is the empty string.
// Offsets outside the table and strings that are not
// valid UTF-8 are reported as not found.
func (t *Table) TryGetDenseString(h RowHandle, field int) (string, bool, error) {
	c, off, ok, err := t.denseOffset(h, field)
	if !ok || err != nil {
		return "", false, err
	}
	if off == 0 {
		t.counters.Inc(diag.StringReads)
		return "", true, nil
	}
	if off < 0 {
		return t.miss()
	}
	idx, ok := t.stringIndex(h, c, off)
	if !ok {
		return t.miss()
	}
	s := t.sections[h.Section]
	r := bitio.NewReader(s.Strings[idx-s.StringTableBase:])
	str, err := r.ReadCString()
	if err != nil {
		return t.miss()
	}
	t.counters.Inc(diag.StringReads)
	return str, true, nil
}

// TryGetInlineString reads field of row h as a NUL-terminated
// string stored inside a sparse record. Preceding fields
// are skipped by the same rule scalar reads use. It reports false for dense tables and
// for strings that run past the end of the row or are not
// valid UTF-8.
func (t *Table) TryGetInlineString(h RowHandle, field int) (string, bool, error) {
	if !t.IsSparse() {
		return "", false, nil
	}
	c, err := t.column(field)
	if err != nil {
		return "", false, err
	}
	rw, err := t.openRow(h)
	if err != nil {
		return "", false, err
	}
	defer rw.release()

	var r bitio.Reader
	r.Reset(rw.buf)
	if err := t.seek(&r, c); err != nil {
		if errors.Is(err, ErrCorrupt) {
			return t.miss()
		}
		return "", false, err
	}
	str, err := r.ReadCString()
	if err != nil {
		return t.miss()
	}
	t.counters.Inc(diag.StringReads)
	return str, true, nil
}

// TryGetString tries dense resolution, then inline resolution.
func (t *Table) TryGetString(h RowHandle, field int) (string, bool, error) {
	s, ok, err := t.TryGetDenseString(h, field)
	if ok || err != nil {
		return s, ok, err
	}
	return t.TryGetInlineString(h, field)
}

func (t *Table) miss() (string, bool, error) {
	t.counters.Inc(diag.StringMisses)
	return "", false, nil
}
