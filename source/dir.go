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

// Package source locates the raw bytes of
// table files stored in a directory.
//
// A table named "Map" is stored as Map.db2,
// or compressed as Map.db2.zst or Map.db2.s2.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Seriousnes/MimironSQL-sub003/compr"
	"golang.org/x/exp/slices"
)

// Ext is the extension of an uncompressed table file.
const Ext = ".db2"

// Dir is a directory of table files.
type Dir struct {
	// Root is the directory on the local filesystem.
	// Uncompressed files under Root are memory-mapped
	// where the platform supports it.
	Root string
	// FS, if non-nil, is used instead of Root.
	FS fs.FS
	// Logf, if non-nil, is used to log
	// which file each table resolved to.
	Logf func(f string, args ...interface{})
}

func (d *Dir) logf(f string, args ...interface{}) {
	// let `go vet` know this is printf-like
	if false {
		_ = fmt.Sprintf(f, args...)
	}
	if d.Logf != nil {
		d.Logf(f, args...)
	}
}

func (d *Dir) fsys() fs.FS {
	if d.FS != nil {
		return d.FS
	}
	return os.DirFS(d.Root)
}

// File is the contents of one table file.
type File struct {
	// Name is the table name.
	Name string
	// Path is the path of the file within the Dir.
	Path string
	// Compression is the algorithm the file
	// was stored with, or "" for none.
	Compression string
	// Data is the uncompressed file contents.
	// Data must not be modified, and must not
	// be used after Close.
	Data []byte

	mapped bool
}

// Close releases the memory held by f.
func (f *File) Close() error {
	data := f.Data
	f.Data = nil
	if f.mapped {
		f.mapped = false
		return unmap(data)
	}
	return nil
}

// Open finds the file for the table name and
// returns its uncompressed contents. The plain
// file is preferred over the compressed forms.
// If no file exists, the returned error wraps
// fs.ErrNotExist.
func (d *Dir) Open(ctx context.Context, name string) (*File, error) {
	if name == "" || strings.ContainsAny(name, "*?[\\") {
		return nil, fmt.Errorf("source.Open: bad table name %q", name)
	}
	for _, ext := range append([]string{""}, compr.Extensions...) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := name + Ext + ext
		if !fs.ValidPath(p) {
			return nil, fmt.Errorf("source.Open: bad table name %q", name)
		}
		f, err := d.load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("source.Open %s: %w", p, err)
		}
		f.Name = name
		d.logf("source: table %s resolved to %s (%d bytes)", name, p, len(f.Data))
		return f, nil
	}
	return nil, fmt.Errorf("source.Open: table %q: %w", name, fs.ErrNotExist)
}

func (d *Dir) load(p string) (*File, error) {
	dec := compr.ForPath(p)
	if dec == nil && d.FS == nil {
		mem, err := mmap(filepath.Join(d.Root, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		return &File{Path: p, Data: mem, mapped: canUnmap(mem)}, nil
	}
	raw, err := fs.ReadFile(d.fsys(), p)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return &File{Path: p, Data: raw}, nil
	}
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, err
	}
	return &File{Path: p, Compression: dec.Name(), Data: out}, nil
}

// Tables returns the sorted names of
// every table stored in d.
func (d *Dir) Tables() ([]string, error) {
	matches, err := fs.Glob(d.fsys(), "*"+Ext+"*")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		name, ok := tableName(path.Base(m))
		if !ok || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func tableName(file string) (string, bool) {
	for _, ext := range append([]string{""}, compr.Extensions...) {
		if name := strings.TrimSuffix(file, Ext+ext); name != file && name != "" {
			return name, true
		}
	}
	return "", false
}
