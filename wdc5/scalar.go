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
	"math"
	"unsafe"
)

// Scalar is the set of types a field can be decoded as.
type Scalar interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

func bitSize[T Scalar]() int {
	var v T
	return int(unsafe.Sizeof(v)) * 8
}

// fromRaw converts the low bits of a decoded
// 64-bit value into T. Integers are truncated;
// floats take their IEEE-754 bit pattern from
// the low 32 or 64 bits.
func fromRaw[T Scalar](raw uint64) T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = int8(raw)
	case *uint8:
		*p = uint8(raw)
	case *int16:
		*p = int16(raw)
	case *uint16:
		*p = uint16(raw)
	case *int32:
		*p = int32(raw)
	case *uint32:
		*p = uint32(raw)
	case *int64:
		*p = int64(raw)
	case *uint64:
		*p = raw
	case *float32:
		*p = math.Float32frombits(uint32(raw))
	case *float64:
		*p = math.Float64frombits(raw)
	}
	return v
}
