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
	"fmt"
)

// schemaResolver is the only thing the codec needs from the schema table:
// looking a sub-schema's walk plan up by id so it can recurse into it.
type schemaResolver interface {
	PlanByID(id uint32) (*Plan, bool)
}

// ValueLength computes the on-disk body length a value map would occupy
// under plan, without writing anything — used to size allocations before
// new_cell/replace_cell write (section 4.4).
func ValueLength(schemas schemaResolver, plan *Plan, value map[string]any) (int, error) {
	n, _, err := fieldsValueLen(schemas, plan, 0, len(plan.ops), value)
	return n, err
}

func fieldsValueLen(schemas schemaResolver, plan *Plan, start, end int, value map[string]any) (int, int, error) {
	pc := start
	total := 0
	for pc < end {
		o := plan.ops[pc]
		n, newPc, err := valueLenAt(schemas, plan, pc, value[o.name])
		if err != nil {
			return 0, 0, err
		}
		total += n
		pc = newPc
	}
	return total, pc, nil
}

func valueLenAt(schemas schemaResolver, plan *Plan, pc int, v any) (int, int, error) {
	o := plan.ops[pc]
	switch o.kind {
	case opField:
		return o.desc.Length(v), pc + 1, nil
	case opSubSchema:
		sub, ok := schemas.PlanByID(o.schemaID)
		if !ok {
			return 0, 0, fmt.Errorf("%w: id %d", ErrSchemaNotFound, o.schemaID)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected map for sub-schema, got %T", o.name, v)
		}
		n, _, err := fieldsValueLen(schemas, sub, 0, len(sub.ops), m)
		return n, pc + 1, err
	case opInlineBegin:
		m, ok := v.(map[string]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected map for inline fields, got %T", o.name, v)
		}
		n, _, err := fieldsValueLen(schemas, plan, pc+1, o.endIdx, m)
		return n, o.endIdx + 1, err
	case opArrayBegin:
		elems, ok := v.([]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected array, got %T", o.name, v)
		}
		total := 4
		for _, e := range elems {
			n, _, err := valueLenAt(schemas, plan, pc+1, e)
			if err != nil {
				return 0, 0, err
			}
			total += n
		}
		return total, o.endIdx + 1, nil
	default:
		return 0, 0, fmt.Errorf("unreachable op kind %d", o.kind)
	}
}

// WriteBody schema-directs a value map into buf[0:], section 4.4 "Write".
// buf must have at least ValueLength(schemas, plan, value) bytes available.
// Returns the number of bytes written.
func WriteBody(schemas schemaResolver, plan *Plan, value map[string]any, buf []byte) (int, error) {
	n, _, err := writeFieldsRange(schemas, plan, 0, len(plan.ops), value, buf, 0)
	return n, err
}

func writeFieldsRange(schemas schemaResolver, plan *Plan, start, end int, value map[string]any, buf []byte, off int) (int, int, error) {
	pc := start
	curOff := off
	for pc < end {
		o := plan.ops[pc]
		n, newPc, err := writeAt(schemas, plan, pc, value[o.name], buf, curOff)
		if err != nil {
			return 0, 0, err
		}
		curOff += n
		pc = newPc
	}
	return curOff - off, pc, nil
}

func writeAt(schemas schemaResolver, plan *Plan, pc int, v any, buf []byte, off int) (int, int, error) {
	o := plan.ops[pc]
	switch o.kind {
	case opField:
		return o.desc.Write(v, buf[off:]), pc + 1, nil
	case opSubSchema:
		sub, ok := schemas.PlanByID(o.schemaID)
		if !ok {
			return 0, 0, fmt.Errorf("%w: id %d", ErrSchemaNotFound, o.schemaID)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected map for sub-schema, got %T", o.name, v)
		}
		n, _, err := writeFieldsRange(schemas, sub, 0, len(sub.ops), m, buf, off)
		return n, pc + 1, err
	case opInlineBegin:
		m, ok := v.(map[string]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected map for inline fields, got %T", o.name, v)
		}
		n, _, err := writeFieldsRange(schemas, plan, pc+1, o.endIdx, m, buf, off)
		return n, o.endIdx + 1, err
	case opArrayBegin:
		elems, ok := v.([]any)
		if !ok {
			return 0, 0, fmt.Errorf("field %q: expected array, got %T", o.name, v)
		}
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(elems)))
		total := 4
		curOff := off + 4
		for _, e := range elems {
			n, _, err := writeAt(schemas, plan, pc+1, e, buf, curOff)
			if err != nil {
				return 0, 0, err
			}
			curOff += n
			total += n
		}
		return total, o.endIdx + 1, nil
	default:
		return 0, 0, fmt.Errorf("unreachable op kind %d", o.kind)
	}
}

// ReadBody is the mirror of WriteBody (section 4.4 "Read"): schema-directed
// decode of a cell body starting at buf[0:].
func ReadBody(schemas schemaResolver, plan *Plan, buf []byte) (map[string]any, int, error) {
	return decodeFieldsRange(schemas, plan, 0, len(plan.ops), buf, 0)
}

func decodeFieldsRange(schemas schemaResolver, plan *Plan, start, end int, buf []byte, off int) (map[string]any, int, error) {
	m := make(map[string]any, end-start)
	pc := start
	curOff := off
	for pc < end {
		o := plan.ops[pc]
		v, newPc, n, err := decodeAt(schemas, plan, pc, buf, curOff)
		if err != nil {
			return nil, 0, err
		}
		m[o.name] = v
		curOff += n
		pc = newPc
	}
	return m, curOff - off, nil
}

func decodeAt(schemas schemaResolver, plan *Plan, pc int, buf []byte, off int) (any, int, int, error) {
	o := plan.ops[pc]
	switch o.kind {
	case opField:
		v, n := o.desc.Read(buf[off:])
		return v, pc + 1, n, nil
	case opSubSchema:
		sub, ok := schemas.PlanByID(o.schemaID)
		if !ok {
			return nil, 0, 0, fmt.Errorf("%w: id %d", ErrSchemaNotFound, o.schemaID)
		}
		m, n, err := decodeFieldsRange(schemas, sub, 0, len(sub.ops), buf, off)
		return m, pc + 1, n, err
	case opInlineBegin:
		m, n, err := decodeFieldsRange(schemas, plan, pc+1, o.endIdx, buf, off)
		return m, o.endIdx + 1, n, err
	case opArrayBegin:
		count := int(binary.BigEndian.Uint32(buf[off : off+4]))
		elems := make([]any, count)
		total := 4
		curOff := off + 4
		for i := 0; i < count; i++ {
			v, _, n, err := decodeAt(schemas, plan, pc+1, buf, curOff)
			if err != nil {
				return nil, 0, 0, err
			}
			elems[i] = v
			curOff += n
			total += n
		}
		return elems, o.endIdx + 1, total, nil
	default:
		return nil, 0, 0, fmt.Errorf("unreachable op kind %d", o.kind)
	}
}

// BytesLength is the "pure function that, given the schema and the start
// address, walks the bytes without materializing values" (section 4.4): it
// returns the total body length stored at buf[0:]. Used by delete and by
// replace size comparison.
func BytesLength(schemas schemaResolver, plan *Plan, buf []byte) (int, error) {
	n, _, err := fieldsBytesLen(schemas, plan, 0, len(plan.ops), buf, 0)
	return n, err
}

func fieldsBytesLen(schemas schemaResolver, plan *Plan, start, end int, buf []byte, off int) (int, int, error) {
	pc := start
	curOff := off
	for pc < end {
		n, newPc, err := bytesLenAt(schemas, plan, pc, buf, curOff)
		if err != nil {
			return 0, 0, err
		}
		curOff += n
		pc = newPc
	}
	return curOff - off, pc, nil
}

func bytesLenAt(schemas schemaResolver, plan *Plan, pc int, buf []byte, off int) (int, int, error) {
	o := plan.ops[pc]
	switch o.kind {
	case opField:
		return o.desc.LengthOfBytes(buf[off:]), pc + 1, nil
	case opSubSchema:
		sub, ok := schemas.PlanByID(o.schemaID)
		if !ok {
			return 0, 0, fmt.Errorf("%w: id %d", ErrSchemaNotFound, o.schemaID)
		}
		n, _, err := fieldsBytesLen(schemas, sub, 0, len(sub.ops), buf, off)
		return n, pc + 1, err
	case opInlineBegin:
		n, _, err := fieldsBytesLen(schemas, plan, pc+1, o.endIdx, buf, off)
		return n, o.endIdx + 1, err
	case opArrayBegin:
		count := int(binary.BigEndian.Uint32(buf[off : off+4]))
		total := 4
		curOff := off + 4
		for i := 0; i < count; i++ {
			n, _, err := bytesLenAt(schemas, plan, pc+1, buf, curOff)
			if err != nil {
				return 0, 0, err
			}
			curOff += n
			total += n
		}
		return total, o.endIdx + 1, nil
	default:
		return 0, 0, fmt.Errorf("unreachable op kind %d", o.kind)
	}
}

// GetIn walks the schema tree along path, skipping siblings by their
// computed byte length, until it reaches the leaf named by the last path
// element (section 4.4 "Partial read"). Returns ok=false if the path does
// not resolve to a stored field.
func GetIn(schemas schemaResolver, plan *Plan, buf []byte, path []string) (any, bool, error) {
	if len(path) == 0 {
		return nil, false, nil
	}
	return getInRange(schemas, plan, 0, len(plan.ops), buf, 0, path)
}

func getInRange(schemas schemaResolver, plan *Plan, start, end int, buf []byte, off int, path []string) (any, bool, error) {
	pc := start
	curOff := off
	for pc < end {
		o := plan.ops[pc]
		if o.name == path[0] {
			if len(path) == 1 {
				v, _, _, err := decodeAt(schemas, plan, pc, buf, curOff)
				return v, err == nil, err
			}
			// descend into this field for the rest of the path
			switch o.kind {
			case opSubSchema:
				sub, ok := schemas.PlanByID(o.schemaID)
				if !ok {
					return nil, false, fmt.Errorf("%w: id %d", ErrSchemaNotFound, o.schemaID)
				}
				return getInRange(schemas, sub, 0, len(sub.ops), buf, curOff, path[1:])
			case opInlineBegin:
				return getInRange(schemas, plan, pc+1, o.endIdx, buf, curOff, path[1:])
			default:
				return nil, false, nil // path descends into a scalar/array: invalid
			}
		}
		n, newPc, err := bytesLenAt(schemas, plan, pc, buf, curOff)
		if err != nil {
			return nil, false, err
		}
		curOff += n
		pc = newPc
	}
	return nil, false, nil
}

// SelectKeys produces a map limited to the named top-level fields in one
// pass; fields not requested are skipped by their computed byte length
// rather than decoded (section 4.4 "Partial read").
func SelectKeys(schemas schemaResolver, plan *Plan, buf []byte, keys []string) (map[string]any, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	result := make(map[string]any, len(keys))
	pc := 0
	off := 0
	for pc < len(plan.ops) {
		o := plan.ops[pc]
		if want[o.name] {
			v, newPc, n, err := decodeAt(schemas, plan, pc, buf, off)
			if err != nil {
				return nil, err
			}
			result[o.name] = v
			off += n
			pc = newPc
			continue
		}
		n, newPc, err := bytesLenAt(schemas, plan, pc, buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		pc = newPc
	}
	return result, nil
}
