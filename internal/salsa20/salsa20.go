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

// Package salsa20 implements the Salsa20/20 stream cipher
// with 128-bit and 256-bit keys and a 64-bit nonce.
//
// Unlike golang.org/x/crypto/salsa20, a Cipher carries
// its keystream position across calls, accepts 16-byte
// keys, and can be wiped with Close once the caller is
// finished with the key material.
package salsa20

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	// BlockSize is the size of one keystream block.
	BlockSize = 64
	// NonceSize is the size of the nonce accepted by New.
	NonceSize = 8
)

var (
	// "expand 32-byte k"
	sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}
	// "expand 16-byte k"
	tau = [4]uint32{0x61707865, 0x3120646e, 0x79622d36, 0x6b206574}
)

// Cipher is a Salsa20/20 keystream generator.
// A Cipher is not safe for concurrent use.
type Cipher struct {
	state [16]uint32
	ks    [BlockSize]byte
	used  int // bytes of ks already consumed
}

// New returns a Cipher for a 16 or 32 byte key
// and an 8 byte nonce, with the block counter at zero.
func New(key, nonce []byte) (*Cipher, error) {
	c := new(Cipher)
	if err := c.Init(key, nonce); err != nil {
		return nil, err
	}
	return c, nil
}

// Init (re)initializes c with key and nonce
// and resets the block counter to zero.
func (c *Cipher) Init(key, nonce []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("salsa20: bad nonce length %d", len(nonce))
	}
	var constants *[4]uint32
	var hi []byte
	switch len(key) {
	case 32:
		constants, hi = &sigma, key[16:]
	case 16:
		constants, hi = &tau, key
	default:
		return fmt.Errorf("salsa20: bad key length %d", len(key))
	}
	s := &c.state
	s[0] = constants[0]
	s[1] = binary.LittleEndian.Uint32(key[0:])
	s[2] = binary.LittleEndian.Uint32(key[4:])
	s[3] = binary.LittleEndian.Uint32(key[8:])
	s[4] = binary.LittleEndian.Uint32(key[12:])
	s[5] = constants[1]
	s[6] = binary.LittleEndian.Uint32(nonce[0:])
	s[7] = binary.LittleEndian.Uint32(nonce[4:])
	s[8] = 0
	s[9] = 0
	s[10] = constants[2]
	s[11] = binary.LittleEndian.Uint32(hi[0:])
	s[12] = binary.LittleEndian.Uint32(hi[4:])
	s[13] = binary.LittleEndian.Uint32(hi[8:])
	s[14] = binary.LittleEndian.Uint32(hi[12:])
	s[15] = constants[3]
	c.used = BlockSize
	return nil
}

func quarter(x *[16]uint32, a, b, c, d int) {
	x[b] ^= bits.RotateLeft32(x[a]+x[d], 7)
	x[c] ^= bits.RotateLeft32(x[b]+x[a], 9)
	x[d] ^= bits.RotateLeft32(x[c]+x[b], 13)
	x[a] ^= bits.RotateLeft32(x[d]+x[c], 18)
}

// block computes the keystream block for the
// current counter into c.ks and bumps the counter.
func (c *Cipher) block() {
	x := c.state
	for i := 0; i < 10; i++ {
		// columns
		quarter(&x, 0, 4, 8, 12)
		quarter(&x, 5, 9, 13, 1)
		quarter(&x, 10, 14, 2, 6)
		quarter(&x, 15, 3, 7, 11)
		// rows
		quarter(&x, 0, 1, 2, 3)
		quarter(&x, 5, 6, 7, 4)
		quarter(&x, 10, 11, 8, 9)
		quarter(&x, 15, 12, 13, 14)
	}
	for i := range x {
		binary.LittleEndian.PutUint32(c.ks[i*4:], x[i]+c.state[i])
	}
	x = [16]uint32{}
	// 64-bit counter in words 8 and 9; wraps at 2^64
	c.state[8]++
	if c.state[8] == 0 {
		c.state[9]++
	}
	c.used = 0
}

// XORKeyStream sets dst = src XOR keystream.
// dst and src may overlap entirely but not partially,
// and len(dst) must be at least len(src).
// Successive calls continue the keystream.
func (c *Cipher) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("salsa20: output smaller than input")
	}
	for len(src) > 0 {
		if c.used == BlockSize {
			c.block()
		}
		n := BlockSize - c.used
		if n > len(src) {
			n = len(src)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ c.ks[c.used+i]
		}
		c.used += n
		src = src[n:]
		dst = dst[n:]
	}
}

// Close wipes the key, nonce, counter,
// and any buffered keystream.
func (c *Cipher) Close() error {
	c.state = [16]uint32{}
	c.ks = [BlockSize]byte{}
	c.used = BlockSize
	return nil
}
