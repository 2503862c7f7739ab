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
	"errors"
	"testing"
)

func newTestCellStore(t *testing.T) (*CellStore, *SchemaTable) {
	t.Helper()
	schemas := NewSchemaTable(BuiltinTypeDescriptors())
	if err := schemas.Add("widget", []FieldDef{
		{Name: "name", Type: TypeExpr{Kind: TypePrimitive, Primitive: "text"}},
		{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
	}, 1); err != nil {
		t.Fatalf("Add schema: %v", err)
	}
	trunk := NewTrunk(0, 1<<16, 16)
	return NewCellStore(trunk, schemas, nil), schemas
}

func TestNewCellAndReadCell(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	v, err := cs.ReadCell(1)
	if err != nil {
		t.Fatalf("ReadCell: %v", err)
	}
	if v["name"] != "a" || v["count"] != int32(1) {
		t.Fatalf("unexpected value: %#v", v)
	}
	if v[SchemaKey] != uint32(1) {
		t.Fatalf("missing/incorrect schema key: %#v", v[SchemaKey])
	}
	if v[HashKey] != uint64(1) {
		t.Fatalf("missing/incorrect hash key: %#v", v[HashKey])
	}
}

func TestNewCellAlreadyExists(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	err := cs.NewCell(1, 0, 1, map[string]any{"name": "b", "count": int32(2)})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestReadCellNotFound(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if _, err := cs.ReadCell(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceCellShrinkInPlace(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "longname", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	trunk := cs.trunk
	addr, _ := trunk.Lookup(1)
	seg := trunk.Segment(addr.Segment)

	if err := cs.ReplaceCell(1, map[string]any{"name": "hi", "count": int32(2)}); err != nil {
		t.Fatalf("ReplaceCell: %v", err)
	}

	newAddr, _ := trunk.Lookup(1)
	if newAddr != addr {
		t.Fatalf("shrink-in-place should not relocate: old %#v new %#v", addr, newAddr)
	}
	if seg.DeadBytes() <= 0 {
		t.Fatalf("expected dead bytes credited after shrink, got %d", seg.DeadBytes())
	}
	if len(seg.Fragments()) != 1 {
		t.Fatalf("expected exactly one fragment after shrink, got %d", len(seg.Fragments()))
	}

	v, err := cs.ReadCell(1)
	if err != nil {
		t.Fatalf("ReadCell after shrink: %v", err)
	}
	if v["name"] != "hi" || v["count"] != int32(2) {
		t.Fatalf("unexpected value after shrink: %#v", v)
	}
}

func TestReplaceCellSameLengthNoFragment(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "ab", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	trunk := cs.trunk
	addr, _ := trunk.Lookup(1)
	seg := trunk.Segment(addr.Segment)

	if err := cs.ReplaceCell(1, map[string]any{"name": "cd", "count": int32(2)}); err != nil {
		t.Fatalf("ReplaceCell: %v", err)
	}
	if seg.DeadBytes() != 0 {
		t.Fatalf("equal-length replace must not add dead bytes, got %d", seg.DeadBytes())
	}
	if len(seg.Fragments()) != 0 {
		t.Fatalf("equal-length replace must not add fragments, got %d", len(seg.Fragments()))
	}
}

func TestReplaceCellGrowTombstonesOld(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	trunk := cs.trunk
	oldAddr, _ := trunk.Lookup(1)
	seg := trunk.Segment(oldAddr.Segment)

	if err := cs.ReplaceCell(1, map[string]any{"name": "a much longer replacement name", "count": int32(2)}); err != nil {
		t.Fatalf("ReplaceCell: %v", err)
	}

	newAddr, _ := trunk.Lookup(1)
	if newAddr == oldAddr {
		t.Fatalf("grow path should relocate, both addresses equal %#v", newAddr)
	}

	release := seg.GetRead()
	h, err := ReadHeader(seg.ReadAt(oldAddr.Offset, int64(HeaderSize)))
	release()
	if err != nil {
		t.Fatalf("ReadHeader at old location: %v", err)
	}
	if h.CellType != CellTypeTombstone {
		t.Fatalf("expected old location tombstoned, got cell type %d", h.CellType)
	}

	v, err := cs.ReadCell(1)
	if err != nil {
		t.Fatalf("ReadCell after grow: %v", err)
	}
	if v["name"] != "a much longer replacement name" || v["count"] != int32(2) {
		t.Fatalf("unexpected value after grow: %#v", v)
	}
}

func TestDeleteCell(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	if err := cs.DeleteCell(1); err != nil {
		t.Fatalf("DeleteCell: %v", err)
	}
	if _, err := cs.ReadCell(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := cs.DeleteCell(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting again, got %v", err)
	}
}

func TestUpdateCell(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	registry := NewFuncRegistry()
	registry.Register("increment", func(current map[string]any, args ...any) (map[string]any, error) {
		by := args[0].(int32)
		current["count"] = current["count"].(int32) + by
		return current, nil
	})
	updated, err := cs.UpdateCell(1, registry, "increment", int32(5))
	if err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}
	if updated["count"] != int32(6) {
		t.Fatalf("unexpected updated value: %#v", updated)
	}
	v, err := cs.ReadCell(1)
	if err != nil {
		t.Fatalf("ReadCell after update: %v", err)
	}
	if v["count"] != int32(6) {
		t.Fatalf("update not persisted: %#v", v)
	}
}

func TestGetInCellAndSelectKeys(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(3)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	v, ok, err := cs.GetInCell(1, []string{"count"})
	if err != nil || !ok {
		t.Fatalf("GetInCell: ok=%v err=%v", ok, err)
	}
	if v != int32(3) {
		t.Fatalf("GetInCell count = %v, want 3", v)
	}
	selected, err := cs.SelectKeysFromCell(1, []string{"name"})
	if err != nil {
		t.Fatalf("SelectKeysFromCell: %v", err)
	}
	if len(selected) != 1 || selected["name"] != "a" {
		t.Fatalf("SelectKeysFromCell = %#v", selected)
	}
}

func TestNewCellByRawIfNewer(t *testing.T) {
	cs, _ := newTestCellStore(t)
	if err := cs.NewCell(1, 0, 1, map[string]any{"name": "a", "count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	addr, _ := cs.trunk.Lookup(1)
	seg := cs.trunk.Segment(addr.Segment)
	release := seg.GetRead()
	h, err := ReadHeader(seg.ReadAt(addr.Offset, int64(HeaderSize)))
	raw := append([]byte(nil), seg.ReadAt(addr.Offset, int64(HeaderSize)+int64(h.CellLength))...)
	release()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	applied, err := cs.NewCellByRawIfNewer(1, h.Version, raw)
	if err != nil {
		t.Fatalf("NewCellByRawIfNewer (same version): %v", err)
	}
	if applied {
		t.Fatalf("expected no-op for non-newer version %d", h.Version)
	}

	applied, err = cs.NewCellByRawIfNewer(1, h.Version+1, raw)
	if err != nil {
		t.Fatalf("NewCellByRawIfNewer (newer version): %v", err)
	}
	if !applied {
		t.Fatalf("expected cell installed for strictly newer version")
	}
}
