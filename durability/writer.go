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
package durability

import (
	"log"
	"time"
)

// DirtyRange is a coalesced byte interval [Lo, Hi) within one segment that
// has changed since the last backup cycle (spec section 4.4/4.7). It
// mirrors storage.DirtyRange field-for-field without importing storage.
type DirtyRange struct {
	Lo, Hi int64
}

// TrunkSource is the read side of a trunk that BackupWriter needs: enough
// to drain dirty ranges and read their bytes back out, without durability
// importing storage (section 9, "Cyclic references between components" —
// the storage package does not know about replica targets, and durability
// does not know about cells, only raw segment bytes).
type TrunkSource interface {
	ID() int
	SegmentCount() int
	SegmentAppendHead(segIdx int) int64
	SegmentData(segIdx int, lo, hi int64) []byte
	DrainDirty(segIdx int) []DirtyRange
}

// BackupWriter ships each trunk's coalesced dirty ranges to every
// configured ReplicaTarget on a fixed cadence (spec section 4.7: "the
// backup cadence is timer-driven, not triggered per write"). Each target
// gets its own dedicated goroutine draining a bounded channel of jobs
// (capacity 1024), the same single-goroutine-owns-a-channel shape as the
// teacher's CacheManager.run (storage/cache.go). A slow target is absorbed
// only up to that buffer: once one target's channel is full, sweep blocks
// on it, and delivery to the other targets waits as well.
type BackupWriter struct {
	trunks   []TrunkSource
	targets  []ReplicaTarget
	interval time.Duration

	jobs []chan shipJob
	stop chan struct{}
	done chan struct{}
}

type shipJob struct {
	trunkID    int
	segmentID  int
	appendHead int64
	lo, hi     int64
	data       []byte
}

// NewBackupWriter constructs a writer that is not yet running; call Run in
// its own goroutine (or let the owning Node do so).
func NewBackupWriter(trunks []TrunkSource, targets []ReplicaTarget, interval time.Duration) *BackupWriter {
	w := &BackupWriter{
		trunks:   trunks,
		targets:  targets,
		interval: interval,
		jobs:     make([]chan shipJob, len(targets)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range targets {
		w.jobs[i] = make(chan shipJob, 1024)
	}
	return w
}

// Run drives the backup cadence until Stop is called. It starts one
// shipping goroutine per target, then ticks the dirty-range sweep.
func (w *BackupWriter) Run() {
	defer close(w.done)

	shipDone := make(chan struct{}, len(w.targets))
	for i, target := range w.targets {
		go w.shipLoop(target, w.jobs[i], shipDone)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			for _, ch := range w.jobs {
				close(ch)
			}
			for range w.targets {
				<-shipDone
			}
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// Stop halts the cadence and waits for every in-flight ship to drain.
func (w *BackupWriter) Stop() {
	close(w.stop)
	<-w.done
}

// sweep drains every trunk's dirty ranges and enqueues one shipJob per
// range per target.
func (w *BackupWriter) sweep() {
	for _, t := range w.trunks {
		for seg := 0; seg < t.SegmentCount(); seg++ {
			ranges := t.DrainDirty(seg)
			if len(ranges) == 0 {
				continue
			}
			head := t.SegmentAppendHead(seg)
			for _, r := range ranges {
				job := shipJob{
					trunkID:    t.ID(),
					segmentID:  seg,
					appendHead: head,
					lo:         r.Lo,
					hi:         r.Hi,
					data:       t.SegmentData(seg, r.Lo, r.Hi),
				}
				for _, ch := range w.jobs {
					ch <- job
				}
			}
		}
	}
}

// shipLoop is the single goroutine that owns one target's channel, the way
// CacheManager.run owns cm.opChan: every WriteSegmentImage call against a
// given target happens from exactly this goroutine, so the target
// implementations need no internal locking around their own I/O sequencing.
func (w *BackupWriter) shipLoop(target ReplicaTarget, jobs <-chan shipJob, done chan<- struct{}) {
	for job := range jobs {
		if err := target.WriteSegmentImage(job.trunkID, job.segmentID, job.appendHead, job.lo, job.hi, job.data); err != nil {
			log.Printf("durability: ship trunk=%d segment=%d [%d,%d) failed: %v", job.trunkID, job.segmentID, job.lo, job.hi, err)
		}
	}
	done <- struct{}{}
}
