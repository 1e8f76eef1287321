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

package keyring

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestParseYAML(t *testing.T) {
	doc := []byte(`
keys:
  FA505078126ACB3E: BDC51862ABED79B2DE48C8E7E66C6200
  "0x0000000000000002": 000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f
`)
	r := New()
	if err := r.Parse(doc); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Fatalf("got %d keys", r.Len())
	}
	k, ok := r.Key(0xFA505078126ACB3E)
	if !ok || len(k) != 16 || k[0] != 0xBD || k[15] != 0x00 {
		t.Fatalf("bad key %x", k)
	}
	k, ok = r.Key(2)
	if !ok || len(k) != 32 || k[31] != 0x1f {
		t.Fatalf("bad key %x", k)
	}
	if _, ok := r.Key(3); ok {
		t.Fatal("unexpected key")
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 0xFA505078126ACB3E {
		t.Fatalf("ids %x", ids)
	}
}

func TestParseJSON(t *testing.T) {
	r := New()
	err := r.Parse([]byte(`{"keys": {"10": "00112233445566778899aabbccddeeff"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Key(0x10); !ok {
		t.Fatal("missing key")
	}
}

func TestParseErrors(t *testing.T) {
	for _, doc := range []string{
		"keys:\n  zz: 00112233445566778899aabbccddeeff\n",
		"keys:\n  01: 0011\n",
		"keys:\n  01: not-hex\n",
		"keys: [1, 2]\n",
	} {
		if err := New().Parse([]byte(doc)); err == nil {
			t.Errorf("expected an error parsing %q", doc)
		}
	}
}

func TestKeyIsCopied(t *testing.T) {
	var r Ring
	key := bytes.Repeat([]byte{1}, 16)
	if err := r.Add(7, key); err != nil {
		t.Fatal(err)
	}
	key[0] = 9
	got, _ := r.Key(7)
	if got[0] != 1 {
		t.Fatal("ring aliases the caller's key")
	}
	got[1] = 9
	again, _ := r.Key(7)
	if again[1] != 1 {
		t.Fatal("ring returned its own storage")
	}
}

func TestLoadAndMarshal(t *testing.T) {
	r := New()
	r.Add(0xabc, bytes.Repeat([]byte{0x5a}, 32))
	doc, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	k, ok := back.Key(0xabc)
	if !ok || !bytes.Equal(k, bytes.Repeat([]byte{0x5a}, 32)) {
		t.Fatalf("round trip lost the key: %x", k)
	}
}

func TestWipe(t *testing.T) {
	r := New()
	r.Add(1, make([]byte, 16))
	r.Wipe()
	if r.Len() != 0 {
		t.Fatal("keys survived Wipe")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(bytes.Repeat([]byte{1}, 16))
	b := Fingerprint(bytes.Repeat([]byte{2}, 16))
	if len(a) != 12 || a == b {
		t.Fatalf("fingerprints %q %q", a, b)
	}
}
