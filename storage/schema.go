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

	NonLockingReadMap "github.com/nebstore/NonLockingReadMap"
)

// TypeExprKind distinguishes the four shapes a field's type-expr can take
// (section 3: Schema).
type TypeExprKind uint8

const (
	TypePrimitive TypeExprKind = iota
	TypeNamedSchema
	TypeInline
	TypeArray
)

// TypeExpr is one field's type declaration: a primitive keyword, a reference
// to another schema by name, an inline (embedded) field list, or an array of
// any of those — including another array, for nested arrays.
type TypeExpr struct {
	Kind       TypeExprKind
	Primitive  string
	SchemaName string
	Inline     []FieldDef
	Element    *TypeExpr
}

// FieldDef is one (name, type-expr) pair in a schema's ordered field list.
type FieldDef struct {
	Name string
	Type TypeExpr
}

// opKind enumerates the walk-plan opcodes named in the design notes:
// FIELD, ARRAY_BEGIN/END, SUB_SCHEMA, INLINE_BEGIN/END.
type opKind uint8

const (
	opField opKind = iota
	opArrayBegin
	opArrayEnd
	opSubSchema
	opInlineBegin
	opInlineEnd
)

type op struct {
	kind     opKind
	name     string
	desc     *TypeDescriptor // set for opField
	schemaID uint32          // set for opSubSchema
	endIdx   int             // set on opInlineBegin/opArrayBegin: index of matching End op
}

// Plan is the precomputed, flat walk plan for a schema: a cache-friendly
// opcode list that lets the codec encode/decode a cell without reflection
// and without re-interpreting the field list on every call (design notes,
// "Schema-directed walks").
type Plan struct {
	ops []op
}

type planBuilder struct {
	plan     *Plan
	resolve  func(name string) (uint32, bool)
	types    map[string]*TypeDescriptor
	firstErr error
}

func (pb *planBuilder) emit(o op) int {
	pb.plan.ops = append(pb.plan.ops, o)
	return len(pb.plan.ops) - 1
}

func (pb *planBuilder) compileFields(fields []FieldDef) {
	for _, f := range fields {
		pb.compileExpr(f.Name, f.Type)
	}
}

func (pb *planBuilder) compileExpr(name string, expr TypeExpr) {
	switch expr.Kind {
	case TypePrimitive:
		td, ok := pb.types[expr.Primitive]
		if !ok {
			pb.fail(fmt.Errorf("unknown primitive type %q", expr.Primitive))
			return
		}
		pb.emit(op{kind: opField, name: name, desc: td})
	case TypeNamedSchema:
		id, ok := pb.resolve(expr.SchemaName)
		if !ok {
			pb.fail(fmt.Errorf("%w: %s", ErrSchemaNotFound, expr.SchemaName))
			return
		}
		pb.emit(op{kind: opSubSchema, name: name, schemaID: id})
	case TypeInline:
		beginIdx := pb.emit(op{kind: opInlineBegin, name: name})
		pb.compileFields(expr.Inline)
		endIdx := pb.emit(op{kind: opInlineEnd})
		pb.plan.ops[beginIdx].endIdx = endIdx
	case TypeArray:
		if expr.Element == nil {
			pb.fail(fmt.Errorf("array type-expr missing element type"))
			return
		}
		beginIdx := pb.emit(op{kind: opArrayBegin, name: name})
		pb.compileExpr("", *expr.Element)
		endIdx := pb.emit(op{kind: opArrayEnd})
		pb.plan.ops[beginIdx].endIdx = endIdx
	default:
		pb.fail(fmt.Errorf("unknown type-expr kind %d", expr.Kind))
	}
}

func (pb *planBuilder) fail(err error) {
	if pb.firstErr == nil {
		pb.firstErr = err
	}
}

func compilePlan(fields []FieldDef, types map[string]*TypeDescriptor, resolve func(string) (uint32, bool)) (*Plan, error) {
	pb := &planBuilder{plan: &Plan{}, resolve: resolve, types: types}
	pb.compileFields(fields)
	if pb.firstErr != nil {
		return nil, pb.firstErr
	}
	return pb.plan, nil
}

// schemaEntry is one row of the schema table: id, name, field list and its
// precompiled walk plan. It satisfies NonLockingReadMap.KeyGetter[uint32] so
// the id-indexed table can use the read-optimized map directly.
type schemaEntry struct {
	ID     uint32
	Name   string
	Fields []FieldDef
	Plan   *Plan
}

func (s *schemaEntry) GetKey() uint32 { return s.ID }
func (s *schemaEntry) ComputeSize() uint {
	return uint(64 + len(s.Name) + 32*len(s.Fields) + 16*len(s.Plan.ops))
}

type nameEntry struct {
	Name string
	ID   uint32
}

func (n *nameEntry) GetKey() string   { return n.Name }
func (n *nameEntry) ComputeSize() uint { return uint(24 + len(n.Name)) }

// SchemaTable maps schema id <-> schema name <-> field list and resolves
// primitive type descriptors (section 4.1). Adds/removes are rare; lookups
// happen on every encode/decode, so both indexes are backed by
// NonLockingReadMap, the teacher's read-optimized concurrent map.
type SchemaTable struct {
	byID   NonLockingReadMap.NonLockingReadMap[*schemaEntry, uint32]
	byName NonLockingReadMap.NonLockingReadMap[*nameEntry, string]
	types  map[string]*TypeDescriptor
}

// NewSchemaTable creates an empty schema table over the given primitive type
// descriptors (normally storage.BuiltinTypeDescriptors()).
func NewSchemaTable(types map[string]*TypeDescriptor) *SchemaTable {
	return &SchemaTable{
		byID:   NonLockingReadMap.New[*schemaEntry, uint32](),
		byName: NonLockingReadMap.New[*nameEntry, string](),
		types:  types,
	}
}

// Add registers a schema under the given node-local monotonic id. Cluster
// level agreement on id assignment is the caller's concern (section 4.1).
func (t *SchemaTable) Add(name string, fields []FieldDef, id uint32) error {
	if existing := t.byID.Get(id); existing != nil {
		return fmt.Errorf("schema id %d already registered", id)
	}
	plan, err := compilePlan(fields, t.types, t.IDByName)
	if err != nil {
		return err
	}
	entry := &schemaEntry{ID: id, Name: name, Fields: fields, Plan: plan}
	t.byID.Set(&entry)
	ne := &nameEntry{Name: name, ID: id}
	t.byName.Set(&ne)
	return nil
}

// Remove drops a schema id from the table. Cells already encoded against it
// remain readable only as long as the caller keeps its own copy of the
// descriptor around; the store does not rewrite existing cells on removal.
func (t *SchemaTable) Remove(id uint32) {
	entry := t.byID.Get(id)
	if entry == nil {
		return
	}
	t.byName.Remove((*entry).Name)
	t.byID.Remove(id)
}

func (t *SchemaTable) GetByID(id uint32) (*schemaEntry, bool) {
	e := t.byID.Get(id)
	if e == nil {
		return nil, false
	}
	return *e, true
}

func (t *SchemaTable) GetByName(name string) (*schemaEntry, bool) {
	e := t.byName.Get(name)
	if e == nil {
		return nil, false
	}
	return t.GetByID((*e).ID)
}

func (t *SchemaTable) IDByName(name string) (uint32, bool) {
	e := t.byName.Get(name)
	if e == nil {
		return 0, false
	}
	return (*e).ID, true
}

// PlanByID resolves a schema id straight to its walk plan, used by the codec
// to recurse into named sub-schemas without a second id->name->id hop.
func (t *SchemaTable) PlanByID(id uint32) (*Plan, bool) {
	e, ok := t.GetByID(id)
	if !ok {
		return nil, false
	}
	return e.Plan, true
}
