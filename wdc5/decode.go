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
)

// column bundles the schema of one field
// with its pallet and common tables.
type column struct {
	index int
	field FieldMeta
	meta  ColumnMeta
	data  columnData
}

// width returns the stored width of an uncompressed value.
func (c *column) width() int {
	w := c.field.Width()
	if w <= 0 {
		if u, ok := c.meta.Compression.(Uncompressed); ok {
			w = int(u.BitWidth)
		}
	}
	return w
}

// span returns the number of bits an uncompressed
// field occupies in a sparse record.
func (c *column) span() int {
	if c.meta.Size > 0 {
		return int(c.meta.Size)
	}
	return c.width()
}

// inlineString reports whether a sparse record stores
// this field as a NUL-terminated string.
func (c *column) inlineString() bool {
	if c.meta.Kind() != KindNone || c.width() != 32 {
		return false
	}
	return c.meta.Size == 0 || c.meta.Size == 32
}

func (c *column) errorf(sentinel error, f string, args ...interface{}) error {
	return fmt.Errorf("%w: field %d: %s", sentinel, c.index, fmt.Sprintf(f, args...))
}

func (c *column) short(err error) error {
	return c.errorf(ErrCorrupt, "%s", err)
}

// decode reads one scalar from r. Common columns
// consume no bits and resolve against id.
func (c *column) decode(r *bitio.Reader, id int32) (uint64, error) {
	switch cm := c.meta.Compression.(type) {
	case Uncompressed:
		w := c.width()
		if w > 64 {
			return 0, c.errorf(ErrUnsupported, "uncompressed width %d", w)
		}
		v, err := r.ReadUint(w)
		if err != nil {
			return 0, c.short(err)
		}
		return v, nil
	case Immediate:
		v, err := r.ReadUint(int(cm.BitWidth))
		if err != nil {
			return 0, c.short(err)
		}
		return v, nil
	case SignedImmediate:
		v, err := r.ReadSigned(int(cm.BitWidth))
		if err != nil {
			return 0, c.short(err)
		}
		return uint64(v), nil
	case Common:
		if v, ok := c.data.common[id]; ok {
			return uint64(v), nil
		}
		return uint64(cm.Default), nil
	case Pallet:
		return c.palletValue(r, cm.BitWidth)
	case PalletArray:
		if cm.Cardinality == 1 {
			return c.palletValue(r, cm.BitWidth)
		}
		// the index still has to be consumed
		if _, err := r.ReadUint(int(cm.BitWidth)); err != nil {
			return 0, c.short(err)
		}
		// scalar reads of multi-element pallet
		// arrays yield zero; see ReadArray
		return 0, nil
	default:
		return 0, c.errorf(ErrUnsupported, "compression type %s", c.meta.Kind())
	}
}

func (c *column) palletValue(r *bitio.Reader, width uint32) (uint64, error) {
	i, err := r.ReadUint(int(width))
	if err != nil {
		return 0, c.short(err)
	}
	if i >= uint64(len(c.data.pallet)) {
		return 0, c.errorf(ErrCorrupt, "pallet index %d out of range [0, %d)", i, len(c.data.pallet))
	}
	return uint64(c.data.pallet[i]), nil
}

// skip advances r past this field in a sparse record.
// When str is set, the field is an inline string.
func (c *column) skip(r *bitio.Reader, str bool) error {
	var err error
	switch cm := c.meta.Compression.(type) {
	case Uncompressed:
		if str {
			err = r.SkipCString()
		} else {
			err = r.Skip(c.span())
		}
	case Immediate:
		err = r.Skip(int(cm.BitWidth))
	case SignedImmediate:
		err = r.Skip(int(cm.BitWidth))
	case Pallet:
		err = r.Skip(int(cm.BitWidth))
	case PalletArray:
		err = r.Skip(int(cm.BitWidth))
	case Common:
	default:
		return c.errorf(ErrUnsupported, "compression type %s", c.meta.Kind())
	}
	if err != nil {
		return c.short(err)
	}
	return nil
}

// decodeArray reads an array field. The second
// result is false when a pallet index falls outside
// of the pallet table.
func decodeArray[T Scalar](c *column, r *bitio.Reader) ([]T, bool, error) {
	switch cm := c.meta.Compression.(type) {
	case Uncompressed:
		w := c.width()
		if w <= 0 || w > 64 {
			return nil, false, c.errorf(ErrUnsupported, "array element width %d", w)
		}
		out := make([]T, int(c.meta.Size)/bitSize[T]())
		for i := range out {
			v, err := r.ReadUint(w)
			if err != nil {
				return nil, false, c.short(err)
			}
			out[i] = fromRaw[T](v)
		}
		return out, true, nil
	case PalletArray:
		i, err := r.ReadUint(int(cm.BitWidth))
		if err != nil {
			return nil, false, c.short(err)
		}
		card := uint64(cm.Cardinality)
		start := i * card
		if card == 0 || start/card != i || start+card > uint64(len(c.data.pallet)) {
			return nil, false, nil
		}
		out := make([]T, card)
		for j := range out {
			out[j] = fromRaw[T](uint64(c.data.pallet[start+uint64(j)]))
		}
		return out, true, nil
	default:
		return nil, false, c.errorf(ErrUnsupported, "array read of %s column", c.meta.Kind())
	}
}
