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

import (
	"sync"

	"github.com/google/btree"
)

// Address identifies a cell's header start within a trunk: which segment,
// and the byte offset inside it (section 3: "trunk-relative address").
type Address struct {
	Segment int
	Offset  int64
}

// DirtyRange is one coalesced [Lo, Hi) byte interval awaiting shipment to
// the replication targets, keyed within a single segment (section 4.7). The
// trunk keeps one tree per segment rather than one global tree so that
// coalescing never merges ranges across segment boundaries.
type DirtyRange struct {
	Lo, Hi int64
}

func dirtyRangeLess(a, b DirtyRange) bool { return a.Lo < b.Lo }

// cellLoc is the location-index entry for one live cell: which segment and
// offset currently hold its header, keyed by the cell's 64-bit hash
// (section 4.1: per-cell location index).
type cellLoc struct {
	addr Address
}

// Trunk is an ordered set of segments plus the per-cell location index and
// the coalesced dirty-range tracker that durability shipping reads from
// (section 3, section 4.7). A Trunk corresponds 1:1 to one of the
// process's trunk_count shards; TrunkStore owns the partition -> trunk
// routing.
type Trunk struct {
	ID int

	segMu    sync.RWMutex
	segments []*Segment
	segSize  int64

	locks *stripedLocks

	indexMu sync.RWMutex
	index   map[uint64]cellLoc

	dirtyMu sync.Mutex
	dirty   []*btree.BTreeG[DirtyRange] // one coalesced tree per segment
}

// NewTrunk creates an empty trunk with one initial segment of segSize
// bytes. lockStripes controls the granularity of per-cell mutation locking
// (section 4.5: concurrent mutation of distinct cells must not serialize).
func NewTrunk(id int, segSize int64, lockStripes int) *Trunk {
	t := &Trunk{
		ID:      id,
		segSize: segSize,
		locks:   newStripedLocks(lockStripes),
		index:   make(map[uint64]cellLoc),
	}
	t.addSegmentLocked(NewSegment(segSize))
	return t
}

func (t *Trunk) addSegmentLocked(s *Segment) {
	t.segments = append(t.segments, s)
	t.dirty = append(t.dirty, btree.NewG(32, dirtyRangeLess))
}

// SegmentCount returns the number of segments currently owned by the trunk.
func (t *Trunk) SegmentCount() int {
	t.segMu.RLock()
	defer t.segMu.RUnlock()
	return len(t.segments)
}

// Segment returns the segment at index i.
func (t *Trunk) Segment(i int) *Segment {
	t.segMu.RLock()
	defer t.segMu.RUnlock()
	return t.segments[i]
}

// TryAcquireSpace attempts to reserve n contiguous bytes in an existing
// segment (scanning in segment order, section 4.2's "first segment with
// enough room" allocation policy), growing the trunk with a fresh segment
// only if none of the existing segments fit and n itself fits within a
// single fresh segment. Returns ErrObjectTooLarge if n exceeds the segment
// size and so cannot be hosted at all.
func (t *Trunk) TryAcquireSpace(n int64) (Address, func(), error) {
	t.segMu.RLock()
	for i, seg := range t.segments {
		release := seg.GetRead()
		if addr, ok := seg.TryAcquireSpace(n); ok {
			t.segMu.RUnlock()
			return Address{Segment: i, Offset: addr}, release, nil
		}
		release()
	}
	t.segMu.RUnlock()

	if n > t.segSize {
		return Address{}, nil, ErrObjectTooLarge
	}

	t.segMu.Lock()
	seg := NewSegment(t.segSize)
	t.addSegmentLocked(seg)
	idx := len(t.segments) - 1
	t.segMu.Unlock()

	t.segMu.RLock()
	release := seg.GetRead()
	addr, ok := seg.TryAcquireSpace(n)
	t.segMu.RUnlock()
	if !ok {
		release()
		return Address{}, nil, ErrStoreFull
	}
	return Address{Segment: idx, Offset: addr}, release, nil
}

// Lookup returns the current location of the cell identified by hash.
func (t *Trunk) Lookup(hash uint64) (Address, bool) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	loc, ok := t.index[hash]
	return loc.addr, ok
}

// SetLocation installs or overwrites the location-index entry for hash —
// the linearization point of new_cell, replace_cell, and the defragmenter's
// relocation (section 4.1, 4.6).
func (t *Trunk) SetLocation(hash uint64, addr Address) {
	t.indexMu.Lock()
	t.index[hash] = cellLoc{addr: addr}
	t.indexMu.Unlock()
}

// RemoveLocation drops hash from the index (delete_cell, section 4.5).
func (t *Trunk) RemoveLocation(hash uint64) {
	t.indexMu.Lock()
	delete(t.index, hash)
	t.indexMu.Unlock()
}

// CellLock returns the release functions for the striped per-cell lock
// guarding mutation of the cell identified by hash.
func (t *Trunk) CellLock(hash uint64) (lock func(), unlock func()) {
	return t.locks.forHash(hash)
}

// MarkDirty records that bytes [lo, hi) of segment seg changed and must be
// reshipped to every replication target, coalescing with any existing
// overlapping or adjacent range (section 4.7).
func (t *Trunk) MarkDirty(seg int, lo, hi int64) {
	t.dirtyMu.Lock()
	defer t.dirtyMu.Unlock()
	tree := t.dirty[seg]

	merged := DirtyRange{Lo: lo, Hi: hi}
	var toDelete []DirtyRange
	// a range starting before lo can still overlap/abut if its Hi reaches
	// at least lo, so walk from the nearest predecessor.
	tree.DescendLessOrEqual(DirtyRange{Lo: lo, Hi: lo}, func(r DirtyRange) bool {
		if r.Hi < merged.Lo {
			return false
		}
		if r.Lo < merged.Lo {
			merged.Lo = r.Lo
		}
		if r.Hi > merged.Hi {
			merged.Hi = r.Hi
		}
		toDelete = append(toDelete, r)
		return true
	})
	tree.AscendGreaterOrEqual(DirtyRange{Lo: lo, Hi: lo}, func(r DirtyRange) bool {
		if r.Lo > merged.Hi {
			return false
		}
		if r.Hi > merged.Hi {
			merged.Hi = r.Hi
		}
		toDelete = append(toDelete, r)
		return true
	})
	for _, r := range toDelete {
		tree.Delete(r)
	}
	tree.ReplaceOrInsert(merged)
}

// DrainDirty removes and returns every coalesced dirty range for segment
// seg, for the backup shipper to snapshot and ship (section 4.7).
func (t *Trunk) DrainDirty(seg int) []DirtyRange {
	t.dirtyMu.Lock()
	defer t.dirtyMu.Unlock()
	tree := t.dirty[seg]
	ranges := make([]DirtyRange, 0, tree.Len())
	tree.Ascend(func(r DirtyRange) bool {
		ranges = append(ranges, r)
		return true
	})
	tree.Clear(false)
	return ranges
}
