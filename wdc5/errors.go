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
	"fmt"
)

var (
	// ErrCorrupt is wrapped by errors caused by
	// structurally inconsistent input: sizes that
	// do not add up, out-of-bounds or unsorted
	// sparse offsets, truncated payloads.
	ErrCorrupt = errors.New("wdc5: corrupt file")
	// ErrUnsupported is wrapped by errors caused by
	// an encoding the decoder cannot handle for the
	// requested read, such as an unrecognized compression
	// type or an array read of a non-array column.
	ErrUnsupported = errors.New("wdc5: unsupported encoding")
	// ErrMissingKey is returned when a row lives in an
	// encrypted section for which no key was supplied.
	ErrMissingKey = errors.New("wdc5: missing decryption key")
	// ErrFieldIndex is returned for a field index
	// outside of [0, FieldCount).
	ErrFieldIndex = errors.New("wdc5: field index out of range")
	// ErrRowHandle is returned for a RowHandle that
	// does not refer to a row in the table.
	ErrRowHandle = errors.New("wdc5: invalid row handle")
)

func corruptf(f string, args ...interface{}) error {
	return fmt.Errorf("%w: "+f, append([]interface{}{ErrCorrupt}, args...)...)
}
