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
	"testing"
	"time"
)

func TestCompactSegmentReclaimsDeadBytesAndRelocatesLiveCells(t *testing.T) {
	schemas := NewSchemaTable(BuiltinTypeDescriptors())
	if err := schemas.Add("widget", []FieldDef{
		{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
	}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	trunk := NewTrunk(0, 4096, 4)
	cs := NewCellStore(trunk, schemas, nil)

	for i := uint64(1); i <= 5; i++ {
		if err := cs.NewCell(i, 0, 1, map[string]any{"count": int32(i)}); err != nil {
			t.Fatalf("NewCell(%d): %v", i, err)
		}
	}
	// Delete most of them so the segment's alive ratio drops well below
	// threshold, leaving cell 3 as the sole survivor.
	for _, h := range []uint64{1, 2, 4, 5} {
		if err := cs.DeleteCell(h); err != nil {
			t.Fatalf("DeleteCell(%d): %v", h, err)
		}
	}

	seg := trunk.Segment(0)
	beforeHead := seg.AppendHead()
	if seg.DeadBytes() == 0 {
		t.Fatalf("expected dead bytes credited after deletes")
	}

	defrag := NewDefragmenter([]*Trunk{trunk}, schemas, time.Hour, 0.99)
	defrag.compactSegment(trunk, 0, seg)

	if seg.DeadBytes() != 0 {
		t.Fatalf("expected dead bytes reset after compaction, got %d", seg.DeadBytes())
	}
	if seg.AppendHead() >= beforeHead {
		t.Fatalf("expected append head to shrink after compaction: before=%d after=%d", beforeHead, seg.AppendHead())
	}
	if len(seg.Fragments()) != 0 {
		t.Fatalf("expected fragment set cleared after compaction, got %d", len(seg.Fragments()))
	}

	v, err := cs.ReadCell(3)
	if err != nil {
		t.Fatalf("ReadCell(3) after compaction: %v", err)
	}
	if v["count"] != int32(3) {
		t.Fatalf("unexpected value for surviving cell after compaction: %#v", v)
	}
}

func TestCompactTrunkSkipsHealthySegments(t *testing.T) {
	schemas := NewSchemaTable(BuiltinTypeDescriptors())
	if err := schemas.Add("widget", []FieldDef{
		{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
	}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	trunk := NewTrunk(0, 4096, 4)
	cs := NewCellStore(trunk, schemas, nil)
	if err := cs.NewCell(1, 0, 1, map[string]any{"count": int32(1)}); err != nil {
		t.Fatalf("NewCell: %v", err)
	}

	seg := trunk.Segment(0)
	before := seg.AppendHead()

	defrag := NewDefragmenter([]*Trunk{trunk}, schemas, time.Hour, DefaultDefragThreshold)
	defrag.compactTrunk(trunk)

	if seg.AppendHead() != before {
		t.Fatalf("healthy segment should not be compacted: before=%d after=%d", before, seg.AppendHead())
	}
}

func TestDefragmenterRequestDefragRunsAndStops(t *testing.T) {
	schemas := NewSchemaTable(BuiltinTypeDescriptors())
	trunk := NewTrunk(0, 4096, 4)
	defrag := NewDefragmenter([]*Trunk{trunk}, schemas, time.Hour, DefaultDefragThreshold)
	go defrag.Run()

	done := defrag.RequestDefrag(trunk)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RequestDefrag did not complete in time")
	}
	defrag.Stop()
}
