/*
Copyright (C) 2026  Neb Contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "github.com/nebstore/neb/durability"

// trunkSource adapts a *Trunk to durability.TrunkSource. It lives here
// rather than in durability so that package stays ignorant of cells,
// schemas, and everything else storage-specific (section 9, "Cyclic
// references between components"): durability only ever sees raw segment
// bytes and coalesced ranges.
type trunkSource struct {
	t *Trunk
}

// TrunkSource wraps t for use with durability.BackupWriter.
func TrunkSource(t *Trunk) durability.TrunkSource {
	return trunkSource{t: t}
}

func (s trunkSource) ID() int { return s.t.ID }

func (s trunkSource) SegmentCount() int { return s.t.SegmentCount() }

func (s trunkSource) SegmentAppendHead(segIdx int) int64 {
	return s.t.Segment(segIdx).AppendHead()
}

func (s trunkSource) SegmentData(segIdx int, lo, hi int64) []byte {
	seg := s.t.Segment(segIdx)
	release := seg.GetRead()
	defer release()
	data := make([]byte, hi-lo)
	copy(data, seg.ReadAt(lo, hi-lo))
	return data
}

func (s trunkSource) DrainDirty(segIdx int) []durability.DirtyRange {
	ranges := s.t.DrainDirty(segIdx)
	out := make([]durability.DirtyRange, len(ranges))
	for i, r := range ranges {
		out[i] = durability.DirtyRange{Lo: r.Lo, Hi: r.Hi}
	}
	return out
}
