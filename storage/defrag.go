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
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/jtolds/gls"
)

// DefaultDefragThreshold is the reference alive-ratio cutoff below which a
// segment is worth compacting (section 4.6, section 6 "Constants").
const DefaultDefragThreshold = 0.7

// Defragmenter runs one cooperative background compaction loop per trunk
// store, scanning every trunk's segments for low alive-ratio candidates
// and relocating live cells in place (section 4.6). It also serves
// on-demand compaction requests raised by the allocator when a trunk runs
// out of room (section 9, "Cyclic references").
type Defragmenter struct {
	trunks    []*Trunk
	schemas   *SchemaTable
	interval  time.Duration
	threshold float64

	stop    chan struct{}
	stopped chan struct{}

	requests chan defragRequest
}

type defragRequest struct {
	trunk *Trunk
	done  chan struct{}
}

// NewDefragmenter creates a defragmenter over the given trunks. interval is
// how often the background sweep runs; on-demand requests via
// RequestDefrag are serviced independently of the sweep cadence. threshold
// is the alive-ratio cutoff (DefaultDefragThreshold if zero).
func NewDefragmenter(trunks []*Trunk, schemas *SchemaTable, interval time.Duration, threshold float64) *Defragmenter {
	if threshold == 0 {
		threshold = DefaultDefragThreshold
	}
	return &Defragmenter{
		trunks:    trunks,
		schemas:   schemas,
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		requests: make(chan defragRequest, 64),
	}
}

// Run starts the background sweep loop. It blocks until Stop is called.
func (d *Defragmenter) Run() {
	defer close(d.stopped)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case req := <-d.requests:
			d.compactTrunk(req.trunk)
			close(req.done)
		case <-ticker.C:
			d.sweep()
		}
	}
}

// Stop requests cooperative shutdown and waits for the loop to exit
// (section 5, "Cancellation & timeouts": responds at loop boundaries).
func (d *Defragmenter) Stop() {
	close(d.stop)
	<-d.stopped
}

// RequestDefrag satisfies defragRequester: it asks for one compaction pass
// over t and returns a channel closed when the pass completes. Requests
// are serialized within a trunk, matching section 4.6's tie-break rule
// ("at most one compaction per segment; trunks' segments are processed
// serially within a trunk").
func (d *Defragmenter) RequestDefrag(t *Trunk) <-chan struct{} {
	done := make(chan struct{})
	select {
	case d.requests <- defragRequest{trunk: t, done: done}:
	default:
		// queue full: run inline rather than block the caller indefinitely.
		d.compactTrunk(t)
		close(done)
	}
	return done
}

// sweep compacts every trunk's eligible segments. Trunks are independent,
// so they are fanned out across a worker pool sized to the CPU count
// (mirroring the throttled worker-pool pattern used for shard fan-out
// elsewhere in this codebase); segments within a single trunk are still
// compacted serially, per section 4.6's tie-break rule.
func (d *Defragmenter) sweep() {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if len(d.trunks) <= workers {
		var wg sync.WaitGroup
		wg.Add(len(d.trunks))
		for _, t := range d.trunks {
			gls.Go(func(t *Trunk) func() {
				return func() {
					defer wg.Done()
					d.compactTrunk(t)
				}
			}(t))
		}
		wg.Wait()
		return
	}
	jobs := make(chan *Trunk, workers)
	var wg sync.WaitGroup
	wg.Add(len(d.trunks))
	for i := 0; i < workers; i++ {
		gls.Go(func() func() {
			return func() {
				for t := range jobs {
					d.compactTrunk(t)
					wg.Done()
				}
			}
		}())
	}
	for _, t := range d.trunks {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
}

func (d *Defragmenter) compactTrunk(t *Trunk) {
	n := t.SegmentCount()
	for i := 0; i < n; i++ {
		seg := t.Segment(i)
		if seg.AliveRatio() >= d.threshold {
			continue
		}
		d.compactSegment(t, i, seg)
	}
}

// compactSegment implements the 4-step compaction loop of section 4.6.
func (d *Defragmenter) compactSegment(t *Trunk, segIdx int, seg *Segment) {
	release := seg.GetWrite()
	defer release()

	oldHead := seg.AppendHead()
	var dst int64

	var cursor int64
	for cursor < oldHead {
		header, err := ReadHeader(seg.ReadAt(cursor, int64(HeaderSize)))
		if err != nil {
			log.Printf("storage: defrag: segment %d: corrupt header at %d: %v", segIdx, cursor, err)
			break
		}
		total := int64(HeaderSize) + int64(header.CellLength)

		if header.CellType != CellTypeTombstone {
			if addr, ok := t.Lookup(header.Hash); ok && addr.Segment == segIdx && addr.Offset == cursor {
				if dst != cursor {
					copy(seg.Data[dst:dst+total], seg.Data[cursor:cursor+total])
					t.SetLocation(header.Hash, Address{Segment: segIdx, Offset: dst})
					t.MarkDirty(segIdx, dst, dst+total)
				}
				dst += total
			}
		}
		cursor += total
	}

	seg.FillZero(dst, oldHead)
	seg.setAppendHead(dst)
	seg.deadBytes.Store(0)
	seg.clearFragments()
}
