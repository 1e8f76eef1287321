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

// Package wdc5 decodes WDC5 client database tables.
//
// A Table is opened from a byte buffer holding the
// whole file. Opening parses the header, the column
// schema, and every section's payload, and resolves
// the id of every row; after that, individual fields
// of individual rows are decoded on demand:
//
//	t, err := wdc5.OpenBytes(buf, &wdc5.Options{Keys: ring})
//	h, ok := t.Lookup(1234)
//	v, err := wdc5.ReadField[int32](t, h, 2)
//
// Fields are addressed by their physical index; mapping
// indices to names is up to the caller.
//
// Rows in encrypted sections are decrypted into a
// pooled scratch buffer for the duration of one decode
// call. The section bytes themselves are never modified,
// so a Table is safe for concurrent use.
package wdc5

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Seriousnes/MimironSQL-sub003/diag"
	"github.com/Seriousnes/MimironSQL-sub003/keyring"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// KeyResolver provides the keys used to decrypt
// encrypted sections. Keys must be 16 or 32 bytes.
//
// Key must return a fresh copy on every call.
// The Table takes ownership of the returned slice
// and zeroes it when the table is closed or the
// key is rejected.
type KeyResolver interface {
	Key(lookup uint64) ([]byte, bool)
}

// KeyMap is a KeyResolver backed by a map.
type KeyMap map[uint64][]byte

// Key implements KeyResolver.Key
func (m KeyMap) Key(lookup uint64) ([]byte, bool) {
	k, ok := m[lookup]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), k...), true
}

// NonceSource selects which row id seeds the
// nonce of an encrypted row.
type NonceSource int

const (
	// NonceSourceID uses the id of the physical row,
	// so copies share the nonce of their source row.
	NonceSourceID NonceSource = iota
	// NonceRowID uses the id in the RowHandle,
	// which for a copied row is the id of the copy.
	NonceRowID
)

// Options configures Open and OpenBytes.
// A nil *Options is equivalent to the zero value.
type Options struct {
	// Keys, if non-nil, resolves the keys of
	// encrypted sections. Sections whose key cannot be
	// resolved remain readable as far as their ids go,
	// but decoding their rows fails with ErrMissingKey.
	Keys KeyResolver
	// Nonce selects the id used as the nonce
	// when decrypting rows.
	Nonce NonceSource
	// InlineStrings, if non-nil, lists the fields that
	// sparse records store as NUL-terminated strings.
	// When nil, every full-width uncompressed field is
	// assumed to be a string. A non-nil empty slice
	// declares that no field is a string.
	InlineStrings []int
	// Logf, if non-nil, is a callback used for logging
	// information about the table as it is opened.
	Logf func(f string, args ...interface{})
}

func (o *Options) logf(f string, args ...interface{}) {
	// let `go vet` know this is printf-like
	if false {
		_ = fmt.Sprintf(f, args...)
	}
	if o.Logf != nil {
		o.Logf(f, args...)
	}
}

// RowHandle identifies a row. It is a plain value:
// it holds no reference to the table's memory and
// is only meaningful to the Table that produced it.
type RowHandle struct {
	Section int
	Index   int
	ID      int32
}

// Table is an open WDC5 file.
type Table struct {
	header   Header
	fields   []FieldMeta
	columns  []column
	sections []*Section
	strings  []byte
	nonce    NonceSource
	inline   []bool // nil unless Options.InlineStrings is set

	recordBytes int // total size of all record blobs
	rows        []RowHandle
	byID        map[int32]int // index into rows

	counters *diag.Counters
}

// Open reads the size bytes of r and opens them as a table.
func Open(r io.ReaderAt, size int64, opts *Options) (*Table, error) {
	if size < 0 || size > int64(^uint32(0)) {
		return nil, fmt.Errorf("wdc5.Open: file size %d out of range", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), buf); err != nil {
		return nil, fmt.Errorf("wdc5.Open: %w", err)
	}
	return OpenBytes(buf, opts)
}

// OpenBytes opens a table held entirely in buf.
// The returned Table references buf, so buf must
// not be modified while the Table is in use.
func OpenBytes(buf []byte, opts *Options) (*Table, error) {
	if opts == nil {
		opts = &Options{}
	}
	d := &decoder{buf: buf}
	h, err := parseHeader(d)
	if err != nil {
		return nil, err
	}
	if err := h.validate(len(buf)); err != nil {
		return nil, err
	}
	t := &Table{header: h, nonce: opts.Nonce}

	hdrs := make([]SectionHeader, h.SectionCount)
	for i := range hdrs {
		hdrs[i] = parseSectionHeader(d)
	}
	t.fields = make([]FieldMeta, h.TotalFieldCount)
	for i := range t.fields {
		t.fields[i] = parseFieldMeta(d)
	}
	var metas []ColumnMeta
	if h.ColumnMetaSize == 0 {
		metas = synthColumns(t.fields[:h.FieldCount])
	} else {
		metas = make([]ColumnMeta, h.FieldCount)
		for i := range metas {
			metas[i] = parseColumnMeta(d)
		}
	}
	pallet := d.take(int(h.PalletDataSize))
	common := d.take(int(h.CommonDataSize))
	if d.short {
		return nil, corruptf("metadata truncated")
	}
	data, err := splitColumnData(metas, pallet, common)
	if err != nil {
		return nil, err
	}
	t.columns = make([]column, len(metas))
	for i := range metas {
		t.columns[i] = column{index: i, field: t.fields[i], meta: metas[i], data: data[i]}
	}
	if opts.InlineStrings != nil {
		t.inline = make([]bool, len(t.columns))
		for _, f := range opts.InlineStrings {
			if f < 0 || f >= len(t.columns) {
				return nil, fmt.Errorf("%w: inline string field %d", ErrFieldIndex, f)
			}
			t.inline[f] = true
		}
	}

	if !h.Flags.Has(FlagSparse) && h.RecordCount > 0 && h.RecordSize == 0 {
		return nil, corruptf("dense table with zero record size")
	}

	t.sections = make([]*Section, len(hdrs))
	strbase, total := 0, 0
	for i := range hdrs {
		s, err := parseSection(buf, &hdrs[i], &t.header, i)
		if err != nil {
			t.Close()
			return nil, err
		}
		s.BaseIndex = total
		s.RecordBase = t.recordBytes
		s.StringTableBase = strbase
		total += s.RowCount()
		t.recordBytes += len(s.Records)
		strbase += len(s.Strings)
		if s.IsEncrypted() {
			t.resolveKey(s, i, opts)
		}
		t.sections[i] = s
	}
	t.joinStrings(strbase)

	if err := t.resolveIDs(opts); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) resolveKey(s *Section, idx int, opts *Options) {
	lookup := s.Header.KeyLookup
	if opts.Keys == nil {
		opts.logf("wdc5: section %d is encrypted with key %016X; no keys configured", idx, lookup)
		return
	}
	key, ok := opts.Keys.Key(lookup)
	if !ok {
		opts.logf("wdc5: section %d is encrypted with unknown key %016X", idx, lookup)
		return
	}
	if len(key) != 16 && len(key) != 32 {
		opts.logf("wdc5: section %d: ignoring key %016X of length %d", idx, lookup, len(key))
		wipe(key)
		return
	}
	s.key = key
	opts.logf("wdc5: section %d: using key %016X (%s)", idx, lookup, keyring.Fingerprint(key))
}

func (t *Table) joinStrings(size int) {
	if len(t.sections) == 1 {
		t.strings = t.sections[0].Strings
		return
	}
	t.strings = make([]byte, 0, size)
	for _, s := range t.sections {
		t.strings = append(t.strings, s.Strings...)
	}
}

// resolveIDs determines the id of every physical row
// and builds the row list and id index, including
// the rows introduced by copy tables.
func (t *Table) resolveIDs(opts *Options) error {
	t.byID = make(map[int32]int)
	for si, s := range t.sections {
		n := s.RowCount()
		switch {
		case len(s.IndexData) > 0:
			if len(s.IndexData) != n {
				return corruptf("section %d: %d ids for %d records", si, len(s.IndexData), n)
			}
			s.ids = s.IndexData
		case len(s.SparseIDs) > 0:
			if len(s.SparseIDs) != n {
				return corruptf("section %d: %d sparse ids for %d records", si, len(s.SparseIDs), n)
			}
			s.ids = s.SparseIDs
		case n == 0:
		default:
			if s.IsEncrypted() {
				return corruptf("section %d: encrypted section without index data", si)
			}
			if int(t.header.IDIndex) >= len(t.columns) {
				return corruptf("id field %d out of range [0, %d)", t.header.IDIndex, len(t.columns))
			}
			ids := make([]int32, n)
			for i := range ids {
				id, err := ReadField[int32](t, RowHandle{Section: si, Index: i}, int(t.header.IDIndex))
				if err != nil {
					return fmt.Errorf("section %d row %d: reading id: %w", si, i, err)
				}
				ids[i] = id
			}
			s.ids = ids
		}
		for i, id := range s.ids {
			t.addRow(RowHandle{Section: si, Index: i, ID: id})
		}
	}
	for si, s := range t.sections {
		dsts := maps.Keys(s.CopyTable)
		slices.Sort(dsts)
		for _, dst := range dsts {
			src := s.CopyTable[dst]
			j, ok := t.byID[src]
			if !ok {
				opts.logf("wdc5: section %d: copy of row %d has no source row %d", si, dst, src)
				continue
			}
			h := t.rows[j]
			h.ID = dst
			t.addRow(h)
		}
	}
	return nil
}

func (t *Table) addRow(h RowHandle) {
	if _, ok := t.byID[h.ID]; ok {
		return
	}
	t.byID[h.ID] = len(t.rows)
	t.rows = append(t.rows, h)
}

// WithCounters returns a view of t whose decode
// calls are counted in c. The view shares all of
// t's state and may be used concurrently with t.
func (t *Table) WithCounters(c *diag.Counters) *Table {
	t2 := *t
	t2.counters = c
	return &t2
}

// Header returns the file header.
func (t *Table) Header() *Header { return &t.header }

// Flags returns the table-wide format flags.
func (t *Table) Flags() Flags { return t.header.Flags }

// IsSparse returns whether rows are variable-width.
func (t *Table) IsSparse() bool { return t.header.Flags.Has(FlagSparse) }

// FieldCount returns the number of decodable fields.
func (t *Table) FieldCount() int { return len(t.columns) }

// Field returns the structure entry for field i.
func (t *Table) Field(i int) FieldMeta { return t.fields[i] }

// Column returns the storage descriptor for field i.
func (t *Table) Column(i int) ColumnMeta { return t.columns[i].meta }

// Sections returns the number of sections.
func (t *Table) Sections() int { return len(t.sections) }

// Section returns section i.
func (t *Table) Section(i int) *Section { return t.sections[i] }

// RecordCount returns the number of physical records.
func (t *Table) RecordCount() int {
	n := 0
	for _, s := range t.sections {
		n += s.RowCount()
	}
	return n
}

// RowCount returns the number of addressable rows,
// including rows introduced by copy tables.
func (t *Table) RowCount() int { return len(t.rows) }

// Row returns the i-th row handle in enumeration order:
// every physical row in section order, followed by copies.
func (t *Table) Row(i int) RowHandle { return t.rows[i] }

// Rows returns a copy of every row handle in enumeration order.
func (t *Table) Rows() []RowHandle {
	return append([]RowHandle(nil), t.rows...)
}

// EachRow calls fn for every row handle in enumeration
// order until fn returns false. It may be called any
// number of times.
func (t *Table) EachRow(fn func(RowHandle) bool) {
	for _, h := range t.rows {
		if !fn(h) {
			return
		}
	}
}

// Lookup returns the handle of the row with the given id.
func (t *Table) Lookup(id int32) (RowHandle, bool) {
	t.counters.Inc(diag.Lookups)
	i, ok := t.byID[id]
	if !ok {
		return RowHandle{}, false
	}
	return t.rows[i], true
}

// StringTable returns the dense string table: the
// concatenation of every section's string block.
// The returned slice must not be modified.
func (t *Table) StringTable() []byte { return t.strings }

// ParentID returns the parent-lookup value of a row.
func (t *Table) ParentID(h RowHandle) (int32, bool) {
	if err := t.checkHandle(h); err != nil {
		return 0, false
	}
	v, ok := t.sections[h.Section].ParentLookup[h.Index]
	return v, ok
}

// Close wipes the section keys resolved at open.
// The Table must not be used after Close.
func (t *Table) Close() error {
	for _, s := range t.sections {
		if s != nil {
			wipe(s.key)
			s.key = nil
		}
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (t *Table) checkHandle(h RowHandle) error {
	if h.Section < 0 || h.Section >= len(t.sections) {
		return fmt.Errorf("%w: section %d", ErrRowHandle, h.Section)
	}
	if h.Index < 0 || h.Index >= t.sections[h.Section].RowCount() {
		return fmt.Errorf("%w: row %d of section %d", ErrRowHandle, h.Index, h.Section)
	}
	return nil
}

func (t *Table) column(field int) (*column, error) {
	if field < 0 || field >= len(t.columns) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrFieldIndex, field, len(t.columns))
	}
	return &t.columns[field], nil
}

// nonceFor returns the little-endian nonce
// used to decrypt the row h.
func (t *Table) nonceFor(h RowHandle) [8]byte {
	var n [8]byte
	id := h.ID
	if t.nonce == NonceSourceID {
		id = t.sourceID(h)
	}
	binary.LittleEndian.PutUint64(n[:], uint64(uint32(id)))
	return n
}

// sourceID returns the id of the physical row behind h.
func (t *Table) sourceID(h RowHandle) int32 {
	s := t.sections[h.Section]
	if h.Index < len(s.ids) {
		return s.ids[h.Index]
	}
	return h.ID
}
