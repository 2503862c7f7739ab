//go:build ceph

/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig names the RADOS cluster connection parameters, adapted from
// the teacher's CephFactory (persistence-ceph.go).
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephTarget is the RADOS-backed replica target. Unlike S3, RADOS allows
// writes at an arbitrary offset, so segment images are written in place
// rather than buffered and replaced whole (the teacher's own comment in
// persistence-ceph.go: "RADOS does not provide append()... but it does
// allow writes at an offset").
type CephTarget struct {
	cfg         CephConfig
	segmentSize int64

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func NewCephTarget(cfg CephConfig, segmentSize int64) *CephTarget {
	return &CephTarget{cfg: cfg, segmentSize: segmentSize}
}

func (c *CephTarget) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}

	conn, err := rados.NewConnWithClusterAndUser(c.cfg.ClusterName, c.cfg.UserName)
	if err != nil {
		return fmt.Errorf("CephTarget: conn: %w", err)
	}
	if c.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(c.cfg.ConfFile); err != nil {
			return fmt.Errorf("CephTarget: read conf: %w", err)
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("CephTarget: connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(c.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return fmt.Errorf("CephTarget: open pool %q: %w", c.cfg.Pool, err)
	}

	c.conn = conn
	c.ioctx = ioctx
	c.opened = true
	return nil
}

func (c *CephTarget) obj(trunkID int) string {
	pfx := strings.TrimSuffix(c.cfg.Prefix, "/")
	return path.Join(pfx, fmt.Sprintf("trunk-%d.replica", trunkID))
}

func (c *CephTarget) importedObj(trunkID int) string {
	pfx := strings.TrimSuffix(c.cfg.Prefix, "/")
	return path.Join(pfx, fmt.Sprintf("trunk-%d.imported", trunkID))
}

func (c *CephTarget) recordOffset(segmentID int) uint64 {
	return uint64(replicaFileHeaderSize) + uint64(segmentID)*uint64(recordHeaderSize+c.segmentSize)
}

// ensureHeader writes the file header the first time this trunk's object is
// touched; RADOS objects need no pre-sizing, a write past the current end
// implicitly extends the object (same sparse-write semantics as a file).
func (c *CephTarget) ensureHeader(obj string) error {
	stat, err := c.ioctx.Stat(obj)
	if err == nil && stat.Size >= uint64(replicaFileHeaderSize) {
		return nil
	}
	return c.ioctx.Write(obj, encodeFileHeader(c.segmentSize), 0)
}

// WriteSegmentImage implements ReplicaTarget.
func (c *CephTarget) WriteSegmentImage(trunkID, segmentID int, appendHead int64, lo, hi int64, data []byte) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	obj := c.obj(trunkID)
	if err := c.ensureHeader(obj); err != nil {
		return err
	}
	recOff := c.recordOffset(segmentID)
	if err := c.ioctx.Write(obj, encodeRecordHeader(appendHead), recOff); err != nil {
		return err
	}
	return c.ioctx.Write(obj, data, recOff+uint64(recordHeaderSize)+uint64(lo))
}

// WriteTombstone implements ReplicaTarget.
func (c *CephTarget) WriteTombstone(trunkID, segmentID int, loc int64, header []byte) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	obj := c.obj(trunkID)
	if err := c.ensureHeader(obj); err != nil {
		return err
	}
	recOff := c.recordOffset(segmentID)
	return c.ioctx.Write(obj, header, recOff+uint64(recordHeaderSize)+uint64(loc))
}

// OpenReplicaFile implements ReplicaTarget.
func (c *CephTarget) OpenReplicaFile(trunkID int) (ReplicaFile, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	obj := c.obj(trunkID)
	stat, err := c.ioctx.Stat(obj)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, replicaFileHeaderSize)
	if _, err := c.ioctx.Read(obj, hdr, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptReplica, err)
	}
	segSize, err := decodeFileHeader(hdr)
	if err != nil {
		return nil, err
	}
	return &cephReplicaFile{c: c, obj: obj, size: stat.Size, segmentSize: segSize, off: uint64(replicaFileHeaderSize)}, nil
}

// MarkImported implements ReplicaTarget.
func (c *CephTarget) MarkImported(trunkID int) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.ioctx.WriteFull(c.importedObj(trunkID), []byte{1})
}

// IsImported implements ReplicaTarget.
func (c *CephTarget) IsImported(trunkID int) bool {
	if err := c.ensureOpen(); err != nil {
		return false
	}
	_, err := c.ioctx.Stat(c.importedObj(trunkID))
	return err == nil
}

type cephReplicaFile struct {
	c           *CephTarget
	obj         string
	size        uint64
	segmentSize int64
	off         uint64
	nextSeg     int
}

func (r *cephReplicaFile) SegmentSize() int64 { return r.segmentSize }

func (r *cephReplicaFile) Next() (int, int64, []byte, error) {
	recordSize := uint64(recordHeaderSize) + uint64(r.segmentSize)
	if r.off+recordSize > r.size {
		return 0, 0, nil, io.EOF
	}
	hdr := make([]byte, recordHeaderSize)
	if _, err := r.c.ioctx.Read(r.obj, hdr, r.off); err != nil {
		return 0, 0, nil, err
	}
	appendHead, err := decodeRecordHeader(hdr)
	if err != nil {
		return 0, 0, nil, err
	}
	body := make([]byte, r.segmentSize)
	if _, err := r.c.ioctx.Read(r.obj, body, r.off+uint64(recordHeaderSize)); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrCorruptReplica, err)
	}
	seg := r.nextSeg
	r.nextSeg++
	r.off += recordSize
	return seg, appendHead, body, nil
}

func (r *cephReplicaFile) Close() error { return nil }
