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
	"encoding/binary"

	"github.com/google/uuid"
)

// CellID packs the high 64 bits (partition) and low 64 bits (hash) of a
// 128-bit cell identifier into a UUID, matching the UUID(partition, hash)
// construction named by the recovery path in the durability spec. Unlike a
// random UUIDv4, this packing is deterministic: the two halves of the UUID
// are exactly the partition and hash, so the same (partition, hash) pair
// always yields the same id and the id can be unpacked losslessly.
func CellID(partition, hash uint64) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], partition)
	binary.BigEndian.PutUint64(b[8:16], hash)
	return uuid.UUID(b)
}

// UnpackCellID is the inverse of CellID: it recovers (partition, hash) from
// a 128-bit identifier, used by recovery to reconstruct the full cell id
// carried in a replica file.
func UnpackCellID(id uuid.UUID) (partition, hash uint64) {
	partition = binary.BigEndian.Uint64(id[0:8])
	hash = binary.BigEndian.Uint64(id[8:16])
	return
}
