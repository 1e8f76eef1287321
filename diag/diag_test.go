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

package diag

import (
	"strings"
	"sync"
	"testing"
)

func TestCounters(t *testing.T) {
	a := New()
	b := New()
	if a.ID == b.ID {
		t.Fatal("operations share an ID")
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Inc(FieldReads)
			}
		}()
	}
	wg.Wait()
	a.Add(Decrypts, 3)
	if got := a.Get(FieldReads); got != 800 {
		t.Fatalf("field reads = %d", got)
	}
	if got := b.Get(FieldReads); got != 0 {
		t.Fatalf("counters leaked between operations: %d", got)
	}
	s := a.String()
	if !strings.HasPrefix(s, "op="+a.ID.String()) {
		t.Fatalf("bad prefix: %s", s)
	}
	if !strings.HasSuffix(s, " decrypts=3 field_reads=800") {
		t.Fatalf("bad counters: %s", s)
	}
}

func TestNilCounters(t *testing.T) {
	var c *Counters
	c.Inc(Lookups)
	if c.Get(Lookups) != 0 {
		t.Fatal("nil counters counted")
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("nil counters have a snapshot")
	}
	if c.String() != "<nil>" {
		t.Fatal(c.String())
	}
}

func TestKindString(t *testing.T) {
	if Lookups.String() != "lookups" || Kind(99).String() != "Kind(99)" {
		t.Fatal("unexpected kind names")
	}
}
