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

package ints

// Interval is a half-open interval [start, end)
// (start is always less than or equal to end)
type Interval struct {
	Start, End int
}

// Contains returns whether n lies within [in].
func (in Interval) Contains(n int) bool {
	return n >= in.Start && n < in.End
}

// Covers returns whether the whole range [start, end)
// lies within [in]. An empty range is covered
// if its start lies within [in.Start, in.End].
func (in Interval) Covers(start, end int) bool {
	if start > end {
		return false
	}
	return start >= in.Start && end <= in.End
}

