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
	"sync"
	"sync/atomic"
)

// scratchPad is the zeroed slack appended
// to every decrypted row.
const scratchPad = 8

// scratchBufs holds zeroed buffers; every
// byte of a pooled buffer's capacity is zero.
var scratchBufs sync.Pool

// scratchOut counts rented buffers
// that have not been given back.
var scratchOut int64

// rent returns a zeroed buffer of length n.
func rent(n int) []byte {
	atomic.AddInt64(&scratchOut, 1)
	if g := scratchBufs.Get(); g != nil {
		buf := g.([]byte)
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// giveBack zeroes buf and returns it to the pool.
// buf must not be used afterwards.
func giveBack(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	scratchBufs.Put(buf[:0])
	atomic.AddInt64(&scratchOut, -1)
}
