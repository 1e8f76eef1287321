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

// Command wdc5dump prints the rows of WDC5 tables
// as tab-separated text.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Seriousnes/MimironSQL-sub003/diag"
	"github.com/Seriousnes/MimironSQL-sub003/keyring"
	"github.com/Seriousnes/MimironSQL-sub003/source"
	"github.com/Seriousnes/MimironSQL-sub003/wdc5"
)

var (
	dashdir     string
	dashkeys    string
	dashstrings string
	dashlimit   int
	dashlist    bool
	dashrowid   bool
	dashv       bool
)

func init() {
	flag.StringVar(&dashdir, "dir", ".", "directory holding .db2 files")
	flag.StringVar(&dashkeys, "keys", "", "keyring file (YAML or JSON)")
	flag.StringVar(&dashstrings, "strings", "", "comma-separated list of string fields")
	flag.IntVar(&dashlimit, "limit", 0, "maximum number of rows to print per table (0 for all)")
	flag.BoolVar(&dashlist, "list", false, "list the tables in -dir and exit")
	flag.BoolVar(&dashrowid, "nonce-row-id", false, "decrypt copied rows with their own id")
	flag.BoolVar(&dashv, "v", false, "verbose")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func parseFields(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad field %q: %w", f, err)
		}
		out = append(out, i)
	}
	return out, nil
}

// isArray reports whether field i holds more than one value.
func isArray(t *wdc5.Table, i int) bool {
	c := t.Column(i)
	switch cm := c.Compression.(type) {
	case wdc5.PalletArray:
		return cm.Cardinality > 1
	case wdc5.Uncompressed:
		w := t.Field(i).Width()
		return w > 0 && int(c.Size) > w
	}
	return false
}

func dump(w io.Writer, t *wdc5.Table, strs []int, limit int) error {
	isString := make([]bool, t.FieldCount())
	for _, i := range strs {
		if i >= 0 && i < len(isString) {
			isString[i] = true
		}
	}
	var err error
	n := 0
	t.EachRow(func(h wdc5.RowHandle) bool {
		if limit > 0 && n >= limit {
			return false
		}
		n++
		fmt.Fprintf(w, "%d", h.ID)
		for i := 0; i < t.FieldCount(); i++ {
			var cell string
			cell, err = format(t, h, i, isString[i])
			if err != nil {
				err = fmt.Errorf("row %d field %d: %w", h.ID, i, err)
				return false
			}
			fmt.Fprintf(w, "\t%s", cell)
		}
		fmt.Fprintln(w)
		return true
	})
	return err
}

func format(t *wdc5.Table, h wdc5.RowHandle, i int, str bool) (string, error) {
	if str {
		s, ok, err := t.TryGetString(h, i)
		if err != nil || !ok {
			return "", err
		}
		return strconv.Quote(s), nil
	}
	if isArray(t, i) {
		return formatArray(t, h, i)
	}
	v, err := wdc5.ReadField[int64](t, h, i)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}

// formatArray reads uncompressed arrays with an
// element type matching the field width.
func formatArray(t *wdc5.Table, h wdc5.RowHandle, i int) (string, error) {
	var (
		vals interface{}
		ok   bool
		err  error
	)
	w := t.Field(i).Width()
	if _, pal := t.Column(i).Compression.(wdc5.PalletArray); pal {
		w = 32
	}
	switch w {
	case 8:
		vals, ok, err = wdc5.ReadArray[uint8](t, h, i)
	case 16:
		vals, ok, err = wdc5.ReadArray[uint16](t, h, i)
	case 64:
		vals, ok, err = wdc5.ReadArray[uint64](t, h, i)
	default:
		vals, ok, err = wdc5.ReadArray[uint32](t, h, i)
	}
	if err != nil || !ok {
		return "[]", err
	}
	return fmt.Sprint(vals), nil
}

func dumpTable(ctx context.Context, w io.Writer, dir *source.Dir, name string, opts *wdc5.Options, strs []int, logger *log.Logger) error {
	f, err := dir.Open(ctx, name)
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := wdc5.OpenBytes(f.Data, opts)
	if err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	defer t.Close()
	c := diag.New()
	if err := dump(w, t.WithCounters(c), strs, dashlimit); err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	if dashv {
		logger.Printf("%s: %s", name, c)
	}
	return nil
}

func run() (err error) {
	logger := log.New(os.Stderr, "", log.Lshortfile)
	var logf func(f string, args ...interface{})
	if dashv {
		logf = logger.Printf
	}
	dir := &source.Dir{Root: dashdir, Logf: logf}
	if dashlist {
		names, err := dir.Tables()
		if err != nil {
			return fmt.Errorf("listing %s: %w", dashdir, err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}
	strs, err := parseFields(dashstrings)
	if err != nil {
		return fmt.Errorf("-strings: %w", err)
	}
	opts := &wdc5.Options{Logf: logf, InlineStrings: strs}
	if dashrowid {
		opts.Nonce = wdc5.NonceRowID
	}
	if dashkeys != "" {
		ring, err := keyring.Load(dashkeys)
		if err != nil {
			return err
		}
		defer ring.Wipe()
		opts.Keys = ring
	}

	o := bufio.NewWriter(os.Stdout)
	defer func() {
		// rows already printed are kept on error
		if ferr := o.Flush(); err == nil {
			err = ferr
		}
	}()
	ctx := context.Background()
	for _, name := range flag.Args() {
		if err := dumpTable(ctx, o, dir, name, opts, strs, logger); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		exitf("%s", err)
	}
}
