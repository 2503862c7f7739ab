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
	"math"
)

// TypeDescriptor is the per-primitive metadata named in section 4.1: a fixed
// byte length (for scalars) or a unit length plus a length rule (for dynamic
// types), a reader, a writer, and whether the type is dynamic. All
// multi-byte fields use big-endian, the endianness chosen for this
// repository end-to-end (cell header, body, and replica file format).
type TypeDescriptor struct {
	Name    string
	Dynamic bool
	// FixedLen is the on-disk length for a non-dynamic descriptor.
	FixedLen int
	// UnitLen is the per-element width for dynamic array primitives
	// (e.g. long-array: 8). Zero for text/string/blob/obj, whose payload
	// is an opaque byte run rather than a packed element array.
	UnitLen int

	// Read decodes the value stored at b[0:] and returns it along with
	// the number of bytes consumed.
	Read func(b []byte) (value any, n int)
	// Write encodes value into b[0:] and returns the number of bytes
	// written. b must have at least Length(value) bytes available.
	Write func(value any, b []byte) int
	// Length returns the on-disk byte length required to store value.
	Length func(value any) int
	// LengthOfBytes returns the on-disk byte length of the value already
	// stored at b[0:], without decoding it — used by the pure length walk
	// (section 4.4) and by delete/replace size comparisons.
	LengthOfBytes func(b []byte) int
}

func newFixedDescriptor(name string, n int, read func([]byte) any, write func(any, []byte)) *TypeDescriptor {
	return &TypeDescriptor{
		Name:     name,
		Dynamic:  false,
		FixedLen: n,
		Read: func(b []byte) (any, int) {
			return read(b), n
		},
		Write: func(v any, b []byte) int {
			write(v, b)
			return n
		},
		Length:        func(any) int { return n },
		LengthOfBytes: func([]byte) int { return n },
	}
}

// dynamicLen returns the total on-disk length of a dynamic value given its
// payload length: a big-endian int32 count/byte-length prefix plus payload.
func dynamicLen(payload int) int { return 4 + payload }

func newBytesLikeDescriptor(name string, payloadOf func(any) []byte, valueOf func([]byte) any) *TypeDescriptor {
	return &TypeDescriptor{
		Name:    name,
		Dynamic: true,
		UnitLen: 0,
		Read: func(b []byte) (any, int) {
			n := int(binary.BigEndian.Uint32(b[0:4]))
			payload := b[4 : 4+n]
			cp := make([]byte, n)
			copy(cp, payload)
			return valueOf(cp), 4 + n
		},
		Write: func(v any, b []byte) int {
			payload := payloadOf(v)
			binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
			copy(b[4:4+len(payload)], payload)
			return 4 + len(payload)
		},
		Length: func(v any) int {
			return dynamicLen(len(payloadOf(v)))
		},
		LengthOfBytes: func(b []byte) int {
			n := int(binary.BigEndian.Uint32(b[0:4]))
			return 4 + n
		},
	}
}

// fixedElementArrayDescriptor builds a "such as long-array" primitive
// (section 4.1): a dynamic type whose payload is a packed run of
// fixed-width elements, length = int32 count * unit_length + 4.
func fixedElementArrayDescriptor(name string, unit int, read func([]byte) any, write func(any, []byte)) *TypeDescriptor {
	return &TypeDescriptor{
		Name:    name,
		Dynamic: true,
		UnitLen: unit,
		Read: func(b []byte) (any, int) {
			count := int(binary.BigEndian.Uint32(b[0:4]))
			vals := make([]any, count)
			for i := 0; i < count; i++ {
				vals[i] = read(b[4+i*unit:])
			}
			return vals, 4 + count*unit
		},
		Write: func(v any, b []byte) int {
			vals := v.([]any)
			binary.BigEndian.PutUint32(b[0:4], uint32(len(vals)))
			for i, e := range vals {
				write(e, b[4+i*unit:])
			}
			return 4 + len(vals)*unit
		},
		Length: func(v any) int {
			vals := v.([]any)
			return 4 + len(vals)*unit
		},
		LengthOfBytes: func(b []byte) int {
			count := int(binary.BigEndian.Uint32(b[0:4]))
			return 4 + count*unit
		},
	}
}

// BuiltinTypeDescriptors returns the primitive type table available to every
// schema: fixed scalars (integer, long, short, byte, double, float, bool,
// char) and dynamic types (text, string, blob, obj, long-array, int-array).
func BuiltinTypeDescriptors() map[string]*TypeDescriptor {
	m := make(map[string]*TypeDescriptor)

	m["integer"] = newFixedDescriptor("integer", 4,
		func(b []byte) any { return int32(binary.BigEndian.Uint32(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint32(b, uint32(toI64(v))) })

	m["long"] = newFixedDescriptor("long", 8,
		func(b []byte) any { return int64(binary.BigEndian.Uint64(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint64(b, uint64(toI64(v))) })

	m["short"] = newFixedDescriptor("short", 2,
		func(b []byte) any { return int16(binary.BigEndian.Uint16(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint16(b, uint16(toI64(v))) })

	m["byte"] = newFixedDescriptor("byte", 1,
		func(b []byte) any { return int8(b[0]) },
		func(v any, b []byte) { b[0] = byte(toI64(v)) })

	m["double"] = newFixedDescriptor("double", 8,
		func(b []byte) any { return math.Float64frombits(binary.BigEndian.Uint64(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint64(b, math.Float64bits(toF64(v))) })

	m["float"] = newFixedDescriptor("float", 4,
		func(b []byte) any { return math.Float32frombits(binary.BigEndian.Uint32(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint32(b, math.Float32bits(float32(toF64(v)))) })

	m["bool"] = newFixedDescriptor("bool", 1,
		func(b []byte) any { return b[0] != 0 },
		func(v any, b []byte) {
			if toBool(v) {
				b[0] = 1
			} else {
				b[0] = 0
			}
		})

	m["char"] = newFixedDescriptor("char", 1,
		func(b []byte) any { return rune(b[0]) },
		func(v any, b []byte) { b[0] = byte(toI64(v)) })

	m["text"] = newBytesLikeDescriptor("text",
		func(v any) []byte { return []byte(toStr(v)) },
		func(b []byte) any { return string(b) })
	m["string"] = m["text"]

	m["blob"] = newBytesLikeDescriptor("blob",
		func(v any) []byte { return v.([]byte) },
		func(b []byte) any { return b })

	// obj: opaque, already-serialized payload (e.g. produced by an external
	// codec); stored verbatim, round-tripped as []byte.
	m["obj"] = newBytesLikeDescriptor("obj",
		func(v any) []byte {
			if bs, ok := v.([]byte); ok {
				return bs
			}
			return []byte(fmt.Sprint(v))
		},
		func(b []byte) any { return b })

	m["long-array"] = fixedElementArrayDescriptor("long-array", 8,
		func(b []byte) any { return int64(binary.BigEndian.Uint64(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint64(b, uint64(toI64(v))) })

	m["int-array"] = fixedElementArrayDescriptor("int-array", 4,
		func(b []byte) any { return int32(binary.BigEndian.Uint32(b)) },
		func(v any, b []byte) { binary.BigEndian.PutUint32(b, uint32(toI64(v))) })

	return m
}

func toI64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case int:
		return int64(x)
	case uint:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return int64(x)
	default:
		panic(fmt.Sprintf("cannot convert %T to integer", v))
	}
}

func toF64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	default:
		panic(fmt.Sprintf("cannot convert %T to float", v))
	}
}

func toBool(v any) bool {
	b, ok := v.(bool)
	if !ok {
		panic(fmt.Sprintf("cannot convert %T to bool", v))
	}
	return b
}

func toStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		return fmt.Sprint(v)
	}
}
