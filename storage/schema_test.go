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

import "testing"

func TestSchemaTableAddAndLookup(t *testing.T) {
	st := NewSchemaTable(BuiltinTypeDescriptors())
	if err := st.Add("widget", []FieldDef{
		{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
	}, 5); err != nil {
		t.Fatalf("Add: %v", err)
	}

	id, ok := st.IDByName("widget")
	if !ok || id != 5 {
		t.Fatalf("IDByName = %d, ok=%v, want 5/true", id, ok)
	}
	entry, ok := st.GetByID(5)
	if !ok || entry.Name != "widget" {
		t.Fatalf("GetByID = %#v, ok=%v", entry, ok)
	}
	byName, ok := st.GetByName("widget")
	if !ok || byName.ID != 5 {
		t.Fatalf("GetByName = %#v, ok=%v", byName, ok)
	}
}

func TestSchemaTableAddDuplicateID(t *testing.T) {
	st := NewSchemaTable(BuiltinTypeDescriptors())
	fields := []FieldDef{{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}}}
	if err := st.Add("a", fields, 1); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := st.Add("b", fields, 1); err == nil {
		t.Fatalf("expected error re-registering id 1 under a different name")
	}
}

func TestSchemaTableAddUnknownPrimitive(t *testing.T) {
	st := NewSchemaTable(BuiltinTypeDescriptors())
	err := st.Add("bad", []FieldDef{
		{Name: "x", Type: TypeExpr{Kind: TypePrimitive, Primitive: "nonexistent"}},
	}, 1)
	if err == nil {
		t.Fatalf("expected error for unknown primitive type")
	}
}

func TestSchemaTableRemove(t *testing.T) {
	st := NewSchemaTable(BuiltinTypeDescriptors())
	fields := []FieldDef{{Name: "count", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}}}
	if err := st.Add("widget", fields, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	st.Remove(1)
	if _, ok := st.GetByID(1); ok {
		t.Fatalf("expected GetByID miss after Remove")
	}
	if _, ok := st.IDByName("widget"); ok {
		t.Fatalf("expected IDByName miss after Remove")
	}
}

func TestSchemaTableNamedSchemaReference(t *testing.T) {
	st := NewSchemaTable(BuiltinTypeDescriptors())
	if err := st.Add("address", []FieldDef{
		{Name: "city", Type: TypeExpr{Kind: TypePrimitive, Primitive: "text"}},
	}, 1); err != nil {
		t.Fatalf("Add address: %v", err)
	}
	err := st.Add("person", []FieldDef{
		{Name: "home", Type: TypeExpr{Kind: TypeNamedSchema, SchemaName: "address"}},
	}, 2)
	if err != nil {
		t.Fatalf("Add person referencing address: %v", err)
	}

	err = st.Add("orphan", []FieldDef{
		{Name: "home", Type: TypeExpr{Kind: TypeNamedSchema, SchemaName: "does-not-exist"}},
	}, 3)
	if err == nil {
		t.Fatalf("expected error referencing unknown schema name")
	}
}

func TestFuncRegistryLookupUnregistered(t *testing.T) {
	r := NewFuncRegistry()
	if _, err := r.Lookup("missing"); err == nil {
		t.Fatalf("expected error looking up unregistered function")
	}
	r.Register("noop", func(current map[string]any, args ...any) (map[string]any, error) {
		return current, nil
	})
	fn, err := r.Lookup("noop")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	v, err := fn(map[string]any{"a": 1})
	if err != nil || v["a"] != 1 {
		t.Fatalf("unexpected fn result: %#v, err=%v", v, err)
	}
}

func TestStripedLocksSameStripeSerializesDifferentHashes(t *testing.T) {
	locks := newStripedLocks(1) // force both hashes into the same stripe
	lock1, unlock1 := locks.forHash(1)
	lock1()
	acquired := make(chan struct{})
	go func() {
		lock2, unlock2 := locks.forHash(2)
		lock2()
		close(acquired)
		unlock2()
	}()
	select {
	case <-acquired:
		t.Fatalf("stripe 0 should serialize hashes 1 and 2 when there is only one stripe")
	default:
	}
	unlock1()
	<-acquired
}
