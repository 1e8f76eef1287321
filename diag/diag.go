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

// Package diag provides per-operation counters
// for table lookups. Counters are advisory: they
// never change the result of a decode.
package diag

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Kind identifies one counter.
type Kind int

const (
	// Lookups counts id -> row handle resolutions.
	Lookups Kind = iota
	// FieldReads counts scalar field decodes.
	FieldReads
	// ArrayReads counts array field decodes.
	ArrayReads
	// StringReads counts successful string resolutions.
	StringReads
	// StringMisses counts string resolutions that found nothing.
	StringMisses
	// Decrypts counts rows decrypted into scratch buffers.
	Decrypts

	numKinds
)

var kindNames = [numKinds]string{
	Lookups:      "lookups",
	FieldReads:   "field_reads",
	ArrayReads:   "array_reads",
	StringReads:  "string_reads",
	StringMisses: "string_misses",
	Decrypts:     "decrypts",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Counters is a set of counters scoped to one
// logical operation (for example, one query).
// A nil *Counters is valid and counts nothing.
// Counters are safe for concurrent use.
type Counters struct {
	// ID identifies the operation in logs.
	ID uuid.UUID

	n [numKinds]int64
}

// New returns zeroed counters with a fresh operation ID.
func New() *Counters {
	return &Counters{ID: uuid.New()}
}

// Add adds delta to the counter for k.
func (c *Counters) Add(k Kind, delta int64) {
	if c == nil || k < 0 || k >= numKinds {
		return
	}
	atomic.AddInt64(&c.n[k], delta)
}

// Inc increments the counter for k.
func (c *Counters) Inc(k Kind) { c.Add(k, 1) }

// Get returns the current value of the counter for k.
func (c *Counters) Get(k Kind) int64 {
	if c == nil || k < 0 || k >= numKinds {
		return 0
	}
	return atomic.LoadInt64(&c.n[k])
}

// Snapshot returns the non-zero counters by name.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	for k := Kind(0); k < numKinds; k++ {
		if v := c.Get(k); v != 0 {
			out[k.String()] = v
		}
	}
	return out
}

// String formats the operation ID and the
// non-zero counters in name order.
func (c *Counters) String() string {
	if c == nil {
		return "<nil>"
	}
	snap := c.Snapshot()
	names := maps.Keys(snap)
	slices.Sort(names)
	var sb strings.Builder
	sb.WriteString("op=")
	sb.WriteString(c.ID.String())
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%d", name, snap[name])
	}
	return sb.String()
}
