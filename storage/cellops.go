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
	"fmt"
)

// SchemaKey and HashKey are the reserved keys read_cell adds to the
// returned map (section 4.4 "Read").
const (
	SchemaKey = "*schema*"
	HashKey   = "*hash*"
)

// defragRequester is the callback capability the cell-write path uses to
// ask for on-demand compaction when allocation fails, rather than holding
// a direct reference to the defragmenter (section 9, "Cyclic references").
type defragRequester interface {
	RequestDefrag(t *Trunk) <-chan struct{}
}

// CellStore ties together a trunk, its schema table, and (optionally) a
// defragmenter capability, exposing the in-process cell API (section 6).
type CellStore struct {
	trunk   *Trunk
	schemas *SchemaTable
	defrag  defragRequester // nil is fine: on-demand compaction is best-effort
}

func NewCellStore(trunk *Trunk, schemas *SchemaTable, defrag defragRequester) *CellStore {
	return &CellStore{trunk: trunk, schemas: schemas, defrag: defrag}
}

// acquireOrDefrag tries to reserve n bytes; on StoreFull it asks for
// on-demand compaction once and retries, matching the design note that
// defragmentation is a capability requested by the allocator, not a path
// the allocator drives directly.
func (cs *CellStore) acquireOrDefrag(n int64) (Address, func(), error) {
	addr, release, err := cs.trunk.TryAcquireSpace(n)
	if err == nil {
		return addr, release, nil
	}
	if err != ErrStoreFull || cs.defrag == nil {
		return Address{}, nil, err
	}
	<-cs.defrag.RequestDefrag(cs.trunk)
	return cs.trunk.TryAcquireSpace(n)
}

// NewCell implements new_cell (section 4.5): fails AlreadyExists if hash is
// already indexed; otherwise encodes value under schemaID and installs the
// index entry.
func (cs *CellStore) NewCell(hash, partition uint64, schemaID uint32, value map[string]any) error {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	if _, ok := cs.trunk.Lookup(hash); ok {
		return ErrAlreadyExists
	}
	plan, ok := cs.schemas.PlanByID(schemaID)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrSchemaNotFound, schemaID)
	}

	bodyLen, err := ValueLength(cs.schemas, plan, value)
	if err != nil {
		return err
	}
	total := int64(HeaderSize + bodyLen)

	addr, release, err := cs.acquireOrDefrag(total)
	if err != nil {
		return err
	}
	defer release()

	seg := cs.trunk.Segment(addr.Segment)
	cs.writeCell(seg, addr.Offset, CellHeader{
		Hash: hash, Partition: partition, SchemaID: schemaID,
		CellLength: uint32(bodyLen), CellType: CellTypeNormal, Version: 1,
	}, value, plan)

	cs.trunk.SetLocation(hash, addr)
	cs.trunk.MarkDirty(addr.Segment, addr.Offset, addr.Offset+total)
	return nil
}

func (cs *CellStore) writeCell(seg *Segment, off int64, h CellHeader, value map[string]any, plan *Plan) {
	buf := seg.Data[off:]
	WriteHeader(buf, h)
	WriteBody(cs.schemas, plan, value, buf[HeaderSize:])
}

// ReadCell implements read_cell (section 4.5, 4.4): returns the decoded
// value map plus the reserved *schema* and *hash* keys, or NotFound.
func (cs *CellStore) ReadCell(hash uint64) (map[string]any, error) {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()
	return cs.readCellLocked(hash)
}

func (cs *CellStore) readCellLocked(hash uint64) (map[string]any, error) {
	addr, ok := cs.trunk.Lookup(hash)
	if !ok {
		return nil, ErrNotFound
	}
	seg := cs.trunk.Segment(addr.Segment)
	release := seg.GetRead()
	defer release()

	h, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	if err != nil {
		return nil, err
	}
	if h.CellType != CellTypeNormal || h.Hash != hash {
		return nil, ErrNotFound
	}
	plan, ok := cs.schemas.PlanByID(h.SchemaID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrSchemaNotFound, h.SchemaID)
	}
	body := seg.ReadAt(addr.Offset+int64(HeaderSize), int64(h.CellLength))
	value, _, err := ReadBody(cs.schemas, plan, body)
	if err != nil {
		return nil, err
	}
	value[SchemaKey] = h.SchemaID
	value[HashKey] = hash
	return value, nil
}

// ReplaceCell implements replace_cell (section 4.5): rewrites in place when
// the new body is no larger than the old, else allocates elsewhere and
// tombstones the old header.
func (cs *CellStore) ReplaceCell(hash uint64, value map[string]any) error {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()
	return cs.replaceCellLocked(hash, value)
}

// replaceCellLocked is ReplaceCell without its own lock acquisition, for
// callers that already hold the per-cell lock (UpdateCell) and must keep
// read+apply+replace inside one critical section: section 5's "operations
// on the same cell are totally ordered by the per-cell lock" is violated
// if the lock is dropped and re-acquired between the read and the write.
func (cs *CellStore) replaceCellLocked(hash uint64, value map[string]any) error {
	addr, ok := cs.trunk.Lookup(hash)
	if !ok {
		return ErrNotFound
	}
	seg := cs.trunk.Segment(addr.Segment)

	release := seg.GetRead()
	oldHeader, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	if err != nil {
		release()
		return err
	}
	plan, ok := cs.schemas.PlanByID(oldHeader.SchemaID)
	if !ok {
		release()
		return fmt.Errorf("%w: id %d", ErrSchemaNotFound, oldHeader.SchemaID)
	}
	lOld := int64(oldHeader.CellLength)

	lNew, err := ValueLength(cs.schemas, plan, value)
	if err != nil {
		release()
		return err
	}

	if int64(lNew) <= lOld {
		newHeader := oldHeader
		newHeader.CellLength = uint32(lNew)
		newHeader.Version++
		cs.writeCell(seg, addr.Offset, newHeader, value, plan)
		if int64(lNew) < lOld {
			shrinkBy := lOld - int64(lNew)
			fragLo := addr.Offset + int64(HeaderSize) + int64(lNew)
			fragHi := fragLo + shrinkBy
			seg.AddFragment(fragLo, fragHi)
			seg.IncDead(shrinkBy)
		}
		cs.trunk.MarkDirty(addr.Segment, addr.Offset, addr.Offset+int64(HeaderSize)+int64(lNew))
		release()
		return nil
	}
	release()

	total := int64(HeaderSize + lNew)
	newAddr, newRelease, err := cs.acquireOrDefrag(total)
	if err != nil {
		return err
	}
	defer newRelease()

	newSeg := cs.trunk.Segment(newAddr.Segment)
	cs.writeCell(newSeg, newAddr.Offset, CellHeader{
		Hash: hash, Partition: oldHeader.Partition, SchemaID: oldHeader.SchemaID,
		CellLength: uint32(lNew), CellType: CellTypeNormal, Version: oldHeader.Version + 1,
	}, value, plan)
	cs.trunk.SetLocation(hash, newAddr)
	cs.trunk.MarkDirty(newAddr.Segment, newAddr.Offset, newAddr.Offset+total)

	cs.tombstone(seg, addr, oldHeader, lOld)
	return nil
}

// tombstone overwrites a cell's header to mark it dead and credits the
// dead-byte/fragment bookkeeping, used by both replace_cell (grow path)
// and delete_cell.
func (cs *CellStore) tombstone(seg *Segment, addr Address, h CellHeader, bodyLen int64) {
	release := seg.GetRead()
	defer release()
	h.CellType = CellTypeTombstone
	WriteHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)), h)
	total := int64(HeaderSize) + bodyLen
	seg.AddFragment(addr.Offset, addr.Offset+total)
	seg.IncDead(total)
	cs.trunk.MarkDirty(addr.Segment, addr.Offset, addr.Offset+int64(HeaderSize))
}

// UpdateCell implements update_cell (section 4.5): reads the cell under its
// write lock, applies a named registered function, and replaces the cell
// with the function's result.
func (cs *CellStore) UpdateCell(hash uint64, registry *FuncRegistry, fnName string, args ...any) (map[string]any, error) {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	current, err := cs.readCellLocked(hash)
	if err != nil {
		return nil, err
	}
	fn, err := registry.Lookup(fnName)
	if err != nil {
		return nil, err
	}
	updated, err := fn(current, args...)
	if err != nil {
		return nil, err
	}
	delete(updated, SchemaKey)
	delete(updated, HashKey)
	if err := cs.replaceCellLocked(hash, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteCell implements delete_cell (section 4.5).
func (cs *CellStore) DeleteCell(hash uint64) error {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	addr, ok := cs.trunk.Lookup(hash)
	if !ok {
		return ErrNotFound
	}
	seg := cs.trunk.Segment(addr.Segment)
	release := seg.GetRead()
	h, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	release()
	if err != nil {
		return err
	}
	cs.trunk.RemoveLocation(hash)
	cs.tombstone(seg, addr, h, int64(h.CellLength))
	return nil
}

// GetInCell implements get_in_cell (section 4.4, 4.5).
func (cs *CellStore) GetInCell(hash uint64, path []string) (any, bool, error) {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	addr, ok := cs.trunk.Lookup(hash)
	if !ok {
		return nil, false, ErrNotFound
	}
	seg := cs.trunk.Segment(addr.Segment)
	release := seg.GetRead()
	defer release()

	h, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	if err != nil {
		return nil, false, err
	}
	plan, ok := cs.schemas.PlanByID(h.SchemaID)
	if !ok {
		return nil, false, fmt.Errorf("%w: id %d", ErrSchemaNotFound, h.SchemaID)
	}
	body := seg.ReadAt(addr.Offset+int64(HeaderSize), int64(h.CellLength))
	return GetIn(cs.schemas, plan, body, path)
}

// SelectKeysFromCell implements select_keys_from_cell (section 4.4, 4.5).
func (cs *CellStore) SelectKeysFromCell(hash uint64, keys []string) (map[string]any, error) {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	addr, ok := cs.trunk.Lookup(hash)
	if !ok {
		return nil, ErrNotFound
	}
	seg := cs.trunk.Segment(addr.Segment)
	release := seg.GetRead()
	defer release()

	h, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	if err != nil {
		return nil, err
	}
	plan, ok := cs.schemas.PlanByID(h.SchemaID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrSchemaNotFound, h.SchemaID)
	}
	body := seg.ReadAt(addr.Offset+int64(HeaderSize), int64(h.CellLength))
	return SelectKeys(cs.schemas, plan, body, keys)
}

// NewCellByRawIfNewer implements new_cell_by_raw_if_newer (section 4.5,
// 4.7): the recovery path. bytes is a full header+body cell image. If the
// index already holds hash at an equal-or-newer version, this is a no-op.
func (cs *CellStore) NewCellByRawIfNewer(hash uint64, version uint64, bytes []byte) (bool, error) {
	lock, unlock := cs.trunk.CellLock(hash)
	lock()
	defer unlock()

	if addr, ok := cs.trunk.Lookup(hash); ok {
		seg := cs.trunk.Segment(addr.Segment)
		release := seg.GetRead()
		existing, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
		release()
		if err != nil {
			return false, err
		}
		if existing.Version >= version {
			return false, nil
		}
	}

	total := int64(len(bytes))
	addr, release, err := cs.acquireOrDefrag(total)
	if err != nil {
		return false, err
	}
	defer release()

	seg := cs.trunk.Segment(addr.Segment)
	seg.WriteAt(addr.Offset, bytes)
	cs.trunk.SetLocation(hash, addr)
	cs.trunk.MarkDirty(addr.Segment, addr.Offset, addr.Offset+total)
	return true, nil
}
