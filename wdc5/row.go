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
	"fmt"

	"github.com/Seriousnes/MimironSQL-sub003/bitio"
	"github.com/Seriousnes/MimironSQL-sub003/diag"
	"github.com/Seriousnes/MimironSQL-sub003/internal/salsa20"
)

// row holds the bytes of one row for the
// duration of a single decode call.
type row struct {
	buf    []byte
	rented []byte
}

// openRow locates the bytes of h, decrypting
// them into a scratch buffer if necessary.
// The caller must call release when done.
func (t *Table) openRow(h RowHandle) (row, error) {
	if err := t.checkHandle(h); err != nil {
		return row{}, err
	}
	s := t.sections[h.Section]
	raw := s.rowBytes(h.Index, int(t.header.RecordSize))
	if !s.IsEncrypted() {
		return row{buf: raw}, nil
	}
	if !s.IsDecryptable() {
		return row{}, fmt.Errorf("%w: section %d (key %016X)", ErrMissingKey, h.Section, s.Header.KeyLookup)
	}
	r := row{rented: rent(len(raw) + scratchPad)}
	r.buf = r.rented[:len(raw)]
	copy(r.buf, raw)

	nonce := t.nonceFor(h)
	var c salsa20.Cipher
	if err := c.Init(s.key, nonce[:]); err != nil {
		r.release()
		return row{}, fmt.Errorf("wdc5: section %d: %w", h.Section, err)
	}
	c.XORKeyStream(r.buf, r.buf)
	c.Close()
	t.counters.Inc(diag.Decrypts)
	return r, nil
}

func (r *row) release() {
	if r.rented != nil {
		giveBack(r.rented)
	}
	r.rented = nil
	r.buf = nil
}

// seek positions r at the start of c within a row.
// Dense fields are at a fixed bit offset; sparse fields
// are found by skipping every preceding field, with
// inline strings skipped up to their terminator.
func (t *Table) seek(r *bitio.Reader, c *column) error {
	if !t.IsSparse() {
		if err := r.Seek(int(c.meta.RecordOffset)); err != nil {
			return c.short(err)
		}
		return nil
	}
	for i := 0; i < c.index; i++ {
		if err := t.columns[i].skip(r, t.isInlineString(i)); err != nil {
			return err
		}
	}
	return nil
}

// isInlineString reports whether sparse records store
// field i as a string. Declared fields win; otherwise
// every full-width uncompressed field is a string.
func (t *Table) isInlineString(i int) bool {
	if t.inline != nil {
		return t.inline[i]
	}
	return t.columns[i].inlineString()
}

// ReadField decodes field of row h as a T.
// Integers narrower than the stored value keep its
// low bits; floats reinterpret the low 32 or 64 bits.
func ReadField[T Scalar](t *Table, h RowHandle, field int) (T, error) {
	var zero T
	c, err := t.column(field)
	if err != nil {
		return zero, err
	}
	rw, err := t.openRow(h)
	if err != nil {
		return zero, err
	}
	defer rw.release()
	t.counters.Inc(diag.FieldReads)

	var r bitio.Reader
	r.Reset(rw.buf)
	if err := t.seek(&r, c); err != nil {
		return zero, err
	}
	raw, err := c.decode(&r, t.sourceID(h))
	if err != nil {
		return zero, err
	}
	return fromRaw[T](raw), nil
}

// ReadArray decodes an array field of row h.
// Only uncompressed and PalletArray columns hold arrays;
// other columns fail with ErrUnsupported. The boolean
// result is false when the row's pallet index does not
// resolve to a group of values.
func ReadArray[T Scalar](t *Table, h RowHandle, field int) ([]T, bool, error) {
	c, err := t.column(field)
	if err != nil {
		return nil, false, err
	}
	rw, err := t.openRow(h)
	if err != nil {
		return nil, false, err
	}
	defer rw.release()
	t.counters.Inc(diag.ArrayReads)

	var r bitio.Reader
	r.Reset(rw.buf)
	if err := t.seek(&r, c); err != nil {
		return nil, false, err
	}
	return decodeArray[T](c, &r)
}
