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
	"reflect"
	"testing"
)

func newTestSchemas(t *testing.T) *SchemaTable {
	t.Helper()
	return NewSchemaTable(BuiltinTypeDescriptors())
}

func TestCellCodecScalarRoundTrip(t *testing.T) {
	schemas := newTestSchemas(t)
	if err := schemas.Add("point", []FieldDef{
		{Name: "x", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
		{Name: "y", Type: TypeExpr{Kind: TypePrimitive, Primitive: "integer"}},
		{Name: "label", Type: TypeExpr{Kind: TypePrimitive, Primitive: "text"}},
	}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	plan, _ := schemas.PlanByID(1)

	value := map[string]any{"x": int32(3), "y": int32(-7), "label": "origin"}
	n, err := ValueLength(schemas, plan, value)
	if err != nil {
		t.Fatalf("ValueLength: %v", err)
	}
	buf := make([]byte, n)
	written, err := WriteBody(schemas, plan, value, buf)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	if written != n {
		t.Fatalf("WriteBody wrote %d bytes, ValueLength said %d", written, n)
	}

	decoded, consumed, err := ReadBody(schemas, plan, buf)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if consumed != n {
		t.Fatalf("ReadBody consumed %d bytes, expected %d", consumed, n)
	}
	if decoded["x"] != int32(3) || decoded["y"] != int32(-7) || decoded["label"] != "origin" {
		t.Fatalf("round trip mismatch: %#v", decoded)
	}
}

func TestCellCodecNestedArrays(t *testing.T) {
	schemas := newTestSchemas(t)
	rowType := TypeExpr{
		Kind: TypeArray,
		Element: &TypeExpr{
			Kind: TypeArray,
			Element: &TypeExpr{Kind: TypePrimitive, Primitive: "integer"},
		},
	}
	if err := schemas.Add("matrix", []FieldDef{{Name: "rows", Type: rowType}}, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	plan, _ := schemas.PlanByID(1)

	value := map[string]any{
		"rows": []any{
			[]any{int32(1), int32(2), int32(3)},
			[]any{int32(4)},
			[]any{},
		},
	}
	n, err := ValueLength(schemas, plan, value)
	if err != nil {
		t.Fatalf("ValueLength: %v", err)
	}
	buf := make([]byte, n)
	if _, err := WriteBody(schemas, plan, value, buf); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	decoded, _, err := ReadBody(schemas, plan, buf)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if !reflect.DeepEqual(decoded["rows"], value["rows"]) {
		t.Fatalf("nested array mismatch: got %#v, want %#v", decoded["rows"], value["rows"])
	}
}

func TestCellCodecInlineAndSubSchema(t *testing.T) {
	schemas := newTestSchemas(t)
	if err := schemas.Add("address", []FieldDef{
		{Name: "city", Type: TypeExpr{Kind: TypePrimitive, Primitive: "text"}},
	}, 1); err != nil {
		t.Fatalf("Add address: %v", err)
	}
	if err := schemas.Add("person", []FieldDef{
		{Name: "name", Type: TypeExpr{Kind: TypePrimitive, Primitive: "text"}},
		{Name: "home", Type: TypeExpr{Kind: TypeNamedSchema, SchemaName: "address"}},
		{Name: "meta", Type: TypeExpr{Kind: TypeInline, Inline: []FieldDef{
			{Name: "active", Type: TypeExpr{Kind: TypePrimitive, Primitive: "bool"}},
		}}},
	}, 2); err != nil {
		t.Fatalf("Add person: %v", err)
	}
	plan, _ := schemas.PlanByID(2)

	value := map[string]any{
		"name": "ada",
		"home": map[string]any{"city": "london"},
		"meta": map[string]any{"active": true},
	}
	n, err := ValueLength(schemas, plan, value)
	if err != nil {
		t.Fatalf("ValueLength: %v", err)
	}
	buf := make([]byte, n)
	if _, err := WriteBody(schemas, plan, value, buf); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	decoded, _, err := ReadBody(schemas, plan, buf)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	home, ok := decoded["home"].(map[string]any)
	if !ok || home["city"] != "london" {
		t.Fatalf("sub-schema mismatch: %#v", decoded["home"])
	}
	meta, ok := decoded["meta"].(map[string]any)
	if !ok || meta["active"] != true {
		t.Fatalf("inline mismatch: %#v", decoded["meta"])
	}

	got, ok, err := GetIn(schemas, plan, buf, []string{"home", "city"})
	if err != nil || !ok {
		t.Fatalf("GetIn home.city: ok=%v err=%v", ok, err)
	}
	if got != "london" {
		t.Fatalf("GetIn home.city = %v, want london", got)
	}

	selected, err := SelectKeys(schemas, plan, buf, []string{"name"})
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if len(selected) != 1 || selected["name"] != "ada" {
		t.Fatalf("SelectKeys = %#v", selected)
	}
}
