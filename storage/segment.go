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
	"sync/atomic"

	NonLockingReadMap "github.com/nebstore/NonLockingReadMap"
)

// Fragment is a dead-space interval [Lo, Hi) inside a segment's content
// area. Fragments never overlap and are a subset of [0, append_head)
// (section 3: Segment invariants).
type Fragment struct {
	Lo, Hi int64
}

func (f *Fragment) GetKey() int64   { return f.Lo }
func (f *Fragment) ComputeSize() uint { return 16 }

// Segment is a fixed-size slab with a bump-pointer allocator, a dead-byte
// counter, a fragment set, and a read/write lock (section 4.2). The content
// area is a plain byte slice rather than a raw pointer: addresses are
// offsets into Data, which is exactly the "base address B" abstraction of
// section 3 with B == 0.
type Segment struct {
	Data []byte
	Size int64

	appendHead atomic.Int64
	deadBytes  atomic.Int64
	fragments  NonLockingReadMap.NonLockingReadMap[*Fragment, int64]

	// mu guards the content area against concurrent defragmentation.
	// Foreground allocators and readers take RLock (they are readers with
	// respect to this lock, even though they mutate append_head via CAS or
	// write bytes into their own freshly-reserved region); the
	// defragmenter takes the exclusive Lock to relocate live cells
	// (section 4.6, 4.2).
	mu sync.RWMutex
}

// NewSegment allocates a segment of the given size.
func NewSegment(size int64) *Segment {
	return &Segment{
		Data:      make([]byte, size),
		Size:      size,
		fragments: NonLockingReadMap.New[*Fragment, int64](),
	}
}

// GetRead acquires the segment's shared lock (taken by allocators and
// readers) and returns a release function.
func (s *Segment) GetRead() func() {
	s.mu.RLock()
	return s.mu.RUnlock
}

// GetWrite acquires the segment's exclusive lock (taken only by the
// defragmenter for relocation) and returns a release function.
func (s *Segment) GetWrite() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// TryAcquireSpace atomically bumps append_head by n and returns the
// pre-increment address, or ok=false if the segment cannot host n more
// bytes (section 4.2). Callers must already hold GetRead().
func (s *Segment) TryAcquireSpace(n int64) (addr int64, ok bool) {
	for {
		cur := s.appendHead.Load()
		next := cur + n
		if next > s.Size {
			return 0, false
		}
		if s.appendHead.CompareAndSwap(cur, next) {
			return cur, true
		}
	}
}

// AppendHead returns the current bump pointer, relative to the segment base.
func (s *Segment) AppendHead() int64 { return s.appendHead.Load() }

// setAppendHead is used only by the defragmenter after compaction.
func (s *Segment) setAppendHead(v int64) { s.appendHead.Store(v) }

// DeadBytes returns the current dead-byte count.
func (s *Segment) DeadBytes() int64 { return s.deadBytes.Load() }

func (s *Segment) IncDead(n int64) { s.deadBytes.Add(n) }
func (s *Segment) DecDead(n int64) { s.deadBytes.Add(-n) }

// AliveRatio is 1 - dead_bytes / (append_head - base) (section 4.2).
func (s *Segment) AliveRatio() float64 {
	used := s.appendHead.Load()
	if used == 0 {
		return 1
	}
	return 1 - float64(s.deadBytes.Load())/float64(used)
}

// AddFragment records a dead interval [lo, hi) for later reclamation by the
// defragmenter (section 4.2). Adjacent/intersecting fragments are not
// merged here (unlike the segment's dirty-range map). The defragmenter
// decides whether a segment is worth compacting from AliveRatio (the
// dead-byte count), not from this set, and clears the set wholesale after
// compaction.
func (s *Segment) AddFragment(lo, hi int64) {
	frag := &Fragment{Lo: lo, Hi: hi}
	s.fragments.Set(&frag)
}

// Fragments returns a snapshot of the current fragment set.
func (s *Segment) Fragments() []Fragment {
	all := s.fragments.GetAll()
	result := make([]Fragment, len(all))
	for i, f := range all {
		result[i] = **f
	}
	return result
}

func (s *Segment) clearFragments() {
	for _, f := range s.fragments.GetAll() {
		s.fragments.Remove((*f).Lo)
	}
}

// ReadAt returns a read-only view of n bytes starting at addr. The caller
// must hold at least GetRead().
func (s *Segment) ReadAt(addr int64, n int64) []byte {
	return s.Data[addr : addr+n]
}

// WriteAt copies b into the segment starting at addr.
func (s *Segment) WriteAt(addr int64, b []byte) {
	copy(s.Data[addr:], b)
}

// FillZero clears [lo, hi) — used during reinitialization and after
// compaction shrinks the live region (section 4.2, 4.6).
func (s *Segment) FillZero(lo, hi int64) {
	clear(s.Data[lo:hi])
}

// Reset restores the segment to its freshly-initialized state. Per section
// 3, a segment's content area is "logically reset only via trunk-wide
// reinitialization (never partial)", so this is exposed for trunk-level use
// only, never called mid-operation on a live segment.
func (s *Segment) Reset() {
	s.appendHead.Store(0)
	s.deadBytes.Store(0)
	s.clearFragments()
	clear(s.Data)
}
