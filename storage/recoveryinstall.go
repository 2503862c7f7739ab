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

// InstallSegment returns a durability.InstallSegment that walks a recovered
// segment image record-by-record (each record is header-then-body, exactly
// the in-memory segment layout, per section 4.7's "append-ordered segment
// image scanning") and installs every cell it finds via
// NewCellByRawIfNewer, so a cell whose replica is stale relative to what is
// already indexed is silently skipped.
//
// trunkID is the source replica file's positional index and is never used
// to route a cell: recovery is content-addressed (section 4.7, "recovery
// may place a cell on a node other than the one that backed it up, because
// partitioning is content-addressed"), so each record's own header is the
// only thing consulted. The header's hash and partition are reassembled
// into the record's full 128-bit id via CellID/UnpackCellID and redispatched
// through ts.Dispatch, which re-derives the owning trunk from scratch. This
// is what makes recovery correct even when the recovering node's
// trunk_count differs from the node that wrote the backup.
func InstallSegment(ts *TrunkStore) durability.InstallSegment {
	return func(trunkID, segmentID int, appendHead int64, data []byte) error {
		var off int64
		for off < appendHead {
			if off+HeaderSize > int64(len(data)) {
				return ErrCorruptReplica
			}
			h, err := ReadHeader(data[off:])
			if err != nil {
				return err
			}
			total := int64(HeaderSize) + int64(h.CellLength)
			if off+total > int64(len(data)) {
				return ErrCorruptReplica
			}
			record := data[off : off+total]

			partition, hash := UnpackCellID(CellID(h.Partition, h.Hash))
			cs, hash := ts.Dispatch(partition, hash)
			if _, err := cs.NewCellByRawIfNewer(hash, h.Version, record); err != nil {
				return err
			}
			off += total
		}
		return nil
	}
}
