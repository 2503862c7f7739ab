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

// Package durability ships coalesced dirty byte ranges to one or more
// remote replica targets and recovers a trunk's contents from them (spec
// section 4.7). It knows nothing about schemas or cell semantics; it moves
// raw segment bytes and defers to the storage package's cell decoder only
// at install time via the InstallSegment callback handed to NewRecoverer.
package durability

import "errors"

// ErrCorruptReplica mirrors storage.ErrCorruptReplica: recovery found a
// record whose length does not fit the bytes actually present.
var ErrCorruptReplica = errors.New("corrupt replica")

// ReplicaTarget is a durability backend: something that can receive
// segment-image and tombstone updates for a trunk, and later hand back a
// ReplicaFile for recovery (spec section 4.7). It generalizes the
// teacher's PersistenceEngine family from per-column storage to
// per-segment image storage.
type ReplicaTarget interface {
	// WriteSegmentImage ships one coalesced dirty range [lo, hi) of
	// segmentID's content, along with the segment's append-head snapshot
	// at the time of the cycle, to this target's replica file for trunkID.
	WriteSegmentImage(trunkID, segmentID int, appendHead int64, lo, hi int64, data []byte) error
	// WriteTombstone ships a header-only update for a cell whose type
	// changed to tombstone without a larger dirty-range write covering it.
	WriteTombstone(trunkID, segmentID int, loc int64, header []byte) error
	// OpenReplicaFile opens trunkID's replica file for sequential
	// recovery reading.
	OpenReplicaFile(trunkID int) (ReplicaFile, error)
	// MarkImported records that trunkID's replica directory has been
	// fully recovered, so future recovery passes skip it.
	MarkImported(trunkID int) error
	// IsImported reports whether trunkID was already marked imported.
	IsImported(trunkID int) bool
}

// ReplicaFile is a sequential reader over one trunk's replica file,
// following the format of spec section 4.7: a segment_size header
// followed by repeated (seg_append_header, segment_size bytes) records,
// one record per segment in segment order.
type ReplicaFile interface {
	// SegmentSize returns the segment_size recorded in the file header.
	SegmentSize() int64
	// Next reads the next segment record. segmentID is the record's
	// position (segments are written and read back in the same order,
	// per spec section 4.7). err is io.EOF once every record has been
	// read.
	Next() (segmentID int, appendHead int64, data []byte, err error)
	Close() error
}
