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
	"time"

	"github.com/nebstore/neb/durability"
)

// DefaultSegmentSize is the process-wide segment size constant (section 6,
// "Constants": reference 8 MiB).
const DefaultSegmentSize int64 = 8 << 20

// Config holds the values the core engine recognizes (section 6,
// "Configuration recognized by the core"). Volume-string parsing
// ("128m"), CLI flags and file-based config loading are all an external
// collaborator's concern — this struct receives already-parsed integers.
type Config struct {
	// SegmentSize is the fixed byte size of every segment in every trunk.
	SegmentSize int64
	// TrunksSize is the byte budget per trunk; TrunkCount is derived from
	// it and MemorySize (floor(memory_size / trunks_size)).
	TrunksSize int64
	// MemorySize is the total per-node byte budget across all trunks.
	MemorySize int64

	// Durability enables the backup writer (together with at least one
	// BackupTarget). Dirty ranges are recorded on every write whatever its
	// value; when false they are never drained or shipped.
	Durability bool
	// Replication is the number of replica targets per trunk (>= 1).
	Replication int
	// AutoBacksync enables the periodic, timer-driven backup cycle; when
	// false, durability tracking still runs but nothing ships until a
	// backup is triggered explicitly.
	AutoBacksync bool
	// BackupInterval is the cadence of the timer-driven backup cycle
	// (design notes, Open Questions: "choose the cadence and driver of the
	// backup loop" — this repository resolves it as timer-driven).
	BackupInterval time.Duration
	// RecoverBackupAtStartup triggers recovery scanning of the backup root
	// before the node accepts traffic.
	RecoverBackupAtStartup bool
	// KeepImportedBackup is carried in the configuration but not read by the
	// node: imported replicas are marked imported and never deleted, whatever
	// its value.
	KeepImportedBackup bool
	// BackupTargets is the set of replica targets every trunk's dirty
	// ranges are shipped to (section 4.7: "Replication" is the count of
	// these; cluster distribution of which node owns which target is out
	// of scope). Replication, if set, is expected to equal len(BackupTargets).
	BackupTargets []durability.ReplicaTarget

	// DefragThreshold overrides DefragThreshold's default alive-ratio
	// cutoff when non-zero.
	DefragThreshold float64
	// DefragInterval is the cadence of the defragmenter's background sweep.
	DefragInterval time.Duration
	// LockStripes is the number of stripes in the per-cell lock table.
	LockStripes int
}

// TrunkCount derives the number of trunks this node hosts: floor(memory_size
// / trunks_size) (section 6).
func (c Config) TrunkCount() int {
	if c.TrunksSize <= 0 {
		return 0
	}
	return int(c.MemorySize / c.TrunksSize)
}

// WithDefaults fills zero-valued fields with the reference constants named
// in section 6 and the design notes.
func (c Config) WithDefaults() Config {
	if c.SegmentSize == 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	if c.DefragThreshold == 0 {
		c.DefragThreshold = DefaultDefragThreshold
	}
	if c.DefragInterval == 0 {
		c.DefragInterval = 30 * time.Second
	}
	if c.BackupInterval == 0 {
		c.BackupInterval = 5 * time.Second
	}
	if c.LockStripes == 0 {
		c.LockStripes = 256
	}
	if c.Replication == 0 {
		c.Replication = 1
	}
	return c
}
