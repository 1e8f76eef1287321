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

// Package ints provides integer and bit-twiddling helpers
// shared by the bit reader and the record decoder.
package ints

import (
	"golang.org/x/exp/constraints"
)

// Mask returns a mask with the low n bits set.
// Mask(0) is zero and Mask(n) for n >= 64 is all ones.
func Mask[K constraints.Integer](n K) uint64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// SignExtend interprets the low n bits of v as
// a two's complement integer and sign-extends it
// to 64 bits. Bits above n are ignored.
func SignExtend[K constraints.Integer](v uint64, n K) int64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return int64(v)
	}
	shift := 64 - uint(n)
	return int64(v<<shift) >> shift
}

