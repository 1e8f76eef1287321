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

package main

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/Seriousnes/MimironSQL-sub003/wdc5"
)

func TestParseFields(t *testing.T) {
	tcs := []struct {
		in   string
		want []int
		ok   bool
	}{
		{"", nil, true},
		{"1", []int{1}, true},
		{"1, 3,7", []int{1, 3, 7}, true},
		{"1,x", nil, false},
		{",", nil, false},
	}
	for i := range tcs {
		got, err := parseFields(tcs[i].in)
		if (err == nil) != tcs[i].ok {
			t.Fatalf("case %d: unexpected error state %v", i, err)
		}
		if err == nil && !reflect.DeepEqual(got, tcs[i].want) {
			t.Fatalf("case %d: got %v want %v", i, got, tcs[i].want)
		}
	}
}

type le []byte

func (b *le) u16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	*b = append(*b, tmp[:]...)
}

func (b *le) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	*b = append(*b, tmp[:]...)
}

// dumpFixture builds a single-section dense table with
// 11-byte rows: an int32, three uint8s and a string offset.
func dumpFixture() []byte {
	type field struct {
		bits                 int16
		offset, recOff, size uint16
	}
	fields := []field{
		{0, 0, 0, 32},
		{24, 4, 32, 24},
		{0, 7, 56, 32},
	}
	const recordSize = 11
	var body le
	body = append(body, 7, 0, 0, 0, 1, 2, 3)
	body.u32(15) // "hi" at string index 0
	body = append(body, 42, 0, 0, 0, 4, 5, 6)
	body.u32(7) // "yo" at string index 3
	strs := "hi\x00yo\x00"
	body = append(body, strs...)
	body.u32(1)
	body.u32(2)

	var w le
	w = append(w, wdc5.Magic...)
	w.u32(5)
	w = append(w, make([]byte, 128)...)
	for _, v := range []uint32{2, uint32(len(fields)), recordSize, uint32(len(strs)), 0, 0, 0, 0, 0} {
		w.u32(v)
	}
	w.u16(uint16(wdc5.FlagIndex))
	w.u16(0)
	for _, v := range []uint32{uint32(len(fields)), 0, 0, uint32(24 * len(fields)), 0, 0, 1} {
		w.u32(v)
	}
	metaEnd := len(w) + 40 + 4*len(fields) + 24*len(fields)
	w.u32(0) // key lookup
	w.u32(0)
	for _, v := range []uint32{uint32(metaEnd), 2, uint32(len(strs)), 0, 8, 0, 0, 0} {
		w.u32(v)
	}
	for _, f := range fields {
		w.u16(uint16(f.bits))
		w.u16(f.offset)
	}
	for _, f := range fields {
		w.u16(f.recOff)
		w.u16(f.size)
		for i := 0; i < 5; i++ {
			w.u32(0) // additional data, KindNone, params
		}
	}
	return append(w, body...)
}

func TestDump(t *testing.T) {
	tbl, err := wdc5.OpenBytes(dumpFixture(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()
	if isArray(tbl, 0) || !isArray(tbl, 1) || isArray(tbl, 2) {
		t.Fatal("isArray")
	}
	tcs := []struct {
		strs  []int
		limit int
		want  string
	}{
		{nil, 0, "1\t7\t[1 2 3]\t15\n2\t42\t[4 5 6]\t7\n"},
		{[]int{2}, 0, "1\t7\t[1 2 3]\t\"hi\"\n2\t42\t[4 5 6]\t\"yo\"\n"},
		{[]int{2, 9}, 1, "1\t7\t[1 2 3]\t\"hi\"\n"},
		{[]int{0}, 2, "1\t\t[1 2 3]\t15\n2\t\t[4 5 6]\t7\n"},
	}
	for i := range tcs {
		var out bytes.Buffer
		if err := dump(&out, tbl, tcs[i].strs, tcs[i].limit); err != nil {
			t.Fatalf("case %d: %s", i, err)
		}
		if got := out.String(); got != tcs[i].want {
			t.Errorf("case %d: got %q want %q", i, got, tcs[i].want)
		}
	}
}
