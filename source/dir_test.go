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

package source

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/Seriousnes/MimironSQL-sub003/compr"
)

func tableBytes(seed byte) []byte {
	buf := append([]byte("WDC5"), bytes.Repeat([]byte{seed, seed + 1, 0}, 500)...)
	return buf
}

func writeDir(t *testing.T) (string, map[string][]byte) {
	dir := t.TempDir()
	want := map[string][]byte{
		"Map":   tableBytes(1),
		"Spell": tableBytes(2),
		"Item":  tableBytes(3),
		"Empty": {},
	}
	files := map[string][]byte{
		"Map.db2":       want["Map"],
		"Spell.db2.zst": compr.Compression("zstd").Compress(want["Spell"], nil),
		"Item.db2.s2":   compr.Compression("s2").Compress(want["Item"], nil),
		"Empty.db2":     want["Empty"],
		"notes.txt":     []byte("ignored"),
		"Map.db2.bak":   []byte("ignored"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir, want
}

func TestDirOpen(t *testing.T) {
	root, want := writeDir(t)
	var logged int
	dirs := []*Dir{
		{Root: root, Logf: func(string, ...interface{}) { logged++ }},
		{FS: os.DirFS(root)},
	}
	compression := map[string]string{"Map": "", "Spell": "zstd", "Item": "s2", "Empty": ""}
	ctx := context.Background()
	for i, d := range dirs {
		for name, data := range want {
			f, err := d.Open(ctx, name)
			if err != nil {
				t.Fatalf("dir %d: %s: %s", i, name, err)
			}
			if !bytes.Equal(f.Data, data) {
				t.Fatalf("dir %d: %s: contents mismatch", i, name)
			}
			if f.Name != name || f.Compression != compression[name] {
				t.Fatalf("dir %d: %s: got name %q compression %q", i, name, f.Name, f.Compression)
			}
			if err := f.Close(); err != nil {
				t.Fatal(err)
			}
			if f.Data != nil {
				t.Fatal("Close did not drop the data")
			}
		}
		names, err := d.Tables()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(names, []string{"Empty", "Item", "Map", "Spell"}) {
			t.Fatalf("dir %d: tables %v", i, names)
		}
	}
	if logged != len(want) {
		t.Fatalf("%d log lines", logged)
	}
}

func TestDirPrefersPlain(t *testing.T) {
	plain := tableBytes(9)
	d := &Dir{FS: fstest.MapFS{
		"Map.db2":     {Data: plain},
		"Map.db2.zst": {Data: compr.Compression("zstd").Compress(tableBytes(8), nil)},
	}}
	f, err := d.Open(context.Background(), "Map")
	if err != nil {
		t.Fatal(err)
	}
	if f.Path != "Map.db2" || !bytes.Equal(f.Data, plain) {
		t.Fatalf("resolved to %s", f.Path)
	}
	names, err := d.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"Map"}) {
		t.Fatalf("tables %v", names)
	}
}

func TestDirErrors(t *testing.T) {
	d := &Dir{FS: fstest.MapFS{
		"Bad.db2.zst": {Data: []byte("not zstd")},
	}}
	ctx := context.Background()
	if _, err := d.Open(ctx, "Missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing table: %v", err)
	}
	for _, name := range []string{"", "../Map", "/Map", "M*p"} {
		if _, err := d.Open(ctx, name); err == nil || errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("name %q: %v", name, err)
		}
	}
	if _, err := d.Open(ctx, "Bad"); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("corrupt zstd: %v", err)
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := d.Open(canceled, "Bad"); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: %v", err)
	}
}
