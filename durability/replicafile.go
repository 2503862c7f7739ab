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
package durability

import (
	"encoding/binary"
	"fmt"
	"io"
)

// replicaFileHeaderSize is the width of the file header: one big-endian
// int32 segment_size (spec section 4.7, "Replica file format").
const replicaFileHeaderSize = 4

// encodeFileHeader writes the segment_size file header.
func encodeFileHeader(segmentSize int64) []byte {
	b := make([]byte, replicaFileHeaderSize)
	binary.BigEndian.PutUint32(b, uint32(segmentSize))
	return b
}

func decodeFileHeader(b []byte) (int64, error) {
	if len(b) < replicaFileHeaderSize {
		return 0, fmt.Errorf("%w: short file header (%d bytes)", ErrCorruptReplica, len(b))
	}
	return int64(binary.BigEndian.Uint32(b)), nil
}

// recordHeaderSize is the width of one segment record's header: a
// big-endian int32 seg_append_header (spec section 4.7).
const recordHeaderSize = 4

func encodeRecordHeader(appendHead int64) []byte {
	b := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint32(b, uint32(appendHead))
	return b
}

func decodeRecordHeader(b []byte) (int64, error) {
	if len(b) < recordHeaderSize {
		return 0, fmt.Errorf("%w: short record header (%d bytes)", ErrCorruptReplica, len(b))
	}
	return int64(binary.BigEndian.Uint32(b)), nil
}

// readFullRecord reads one (seg_append_header, segmentSize bytes) record
// from r, returning io.EOF only when the record header itself is absent
// (a clean end-of-file); a header present with a truncated body is
// ErrCorruptReplica, since a legitimately empty file never starts a record
// it can't finish.
func readFullRecord(r io.Reader, segmentSize int64) (appendHead int64, data []byte, err error) {
	hdr := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: truncated record header", ErrCorruptReplica)
		}
		return 0, nil, err // io.EOF propagates as-is
	}
	appendHead, err = decodeRecordHeader(hdr)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, segmentSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated segment body: %v", ErrCorruptReplica, err)
	}
	return appendHead, body, nil
}
