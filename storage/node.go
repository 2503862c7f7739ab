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
	"context"
	"log"

	"github.com/dc0d/onexit"

	"github.com/nebstore/neb/durability"
)

// Node encapsulates the process-wide mutables the original design keeps as
// globals (schema table, trunk store, function registry) as explicitly
// owned, independently testable objects (section 9, "Global mutable
// state"). A test instantiates as many Nodes as it needs; none share
// state.
type Node struct {
	Config  Config
	Schemas *SchemaTable
	Trunks  *TrunkStore
	Funcs   *FuncRegistry
	Defrag  *Defragmenter
	Backup  *durability.BackupWriter // nil unless Config.Durability and at least one target
}

// NewNode wires a fresh Node: schema table, trunk store, function
// registry, a defragmenter (always created and started), and, when
// Config.Durability is set and at least one backup target is configured, a
// backup writer (started only if Config.AutoBacksync). Shutdown is
// registered via dc0d/onexit the way the reference process registers its
// cleanup hooks.
func NewNode(cfg Config) *Node {
	cfg = cfg.WithDefaults()

	n := &Node{
		Config:  cfg,
		Schemas: NewSchemaTable(BuiltinTypeDescriptors()),
		Funcs:   NewFuncRegistry(),
	}

	trunkCount := cfg.TrunkCount()
	if trunkCount < 1 {
		trunkCount = 1
	}

	// The defragmenter needs the trunk list before TrunkStore exists and
	// TrunkStore needs the defragmenter's RequestDefrag capability before
	// the defragmenter's own trunk list is final: break the cycle with a
	// forwarding shim that is filled in once both sides are constructed
	// (section 9, "Cyclic references between components").
	fwd := &defragForwarder{}
	n.Trunks = NewTrunkStore(trunkCount, cfg.SegmentSize, cfg.LockStripes, n.Schemas, fwd)
	n.Defrag = NewDefragmenter(n.Trunks.Trunks(), n.Schemas, cfg.DefragInterval, cfg.DefragThreshold)
	fwd.target = n.Defrag

	if cfg.RecoverBackupAtStartup && len(cfg.BackupTargets) > 0 {
		n.recoverAtStartup()
	}

	if cfg.Durability && len(cfg.BackupTargets) > 0 {
		sources := make([]durability.TrunkSource, len(n.Trunks.Trunks()))
		for i, t := range n.Trunks.Trunks() {
			sources[i] = TrunkSource(t)
		}
		n.Backup = durability.NewBackupWriter(sources, cfg.BackupTargets, cfg.BackupInterval)
		if cfg.AutoBacksync {
			go n.Backup.Run()
		}
	}

	onexit.Register(func() {
		log.Printf("storage: node shutting down, stopping defragmenter")
		n.Defrag.Stop()
		if n.Backup != nil && n.Config.AutoBacksync {
			n.Backup.Stop()
		}
	})

	go n.Defrag.Run()

	return n
}

// recoverAtStartup replays every backup target into this node's trunks
// before it starts serving traffic (section 4.7).
func (n *Node) recoverAtStartup() {
	trunkIDs := make([]int, n.Trunks.TrunkCount())
	for i := range trunkIDs {
		trunkIDs[i] = i
	}
	concurrency := durability.DefaultSegmentConcurrency(1)
	rec := durability.NewRecoverer(n.Config.BackupTargets, InstallSegment(n.Trunks), concurrency)
	if err := rec.Recover(context.Background(), trunkIDs); err != nil {
		log.Printf("storage: recovery at startup failed: %v", err)
	}
}

// Close stops the node's background loops: the defragmenter, and the backup
// writer when NewNode started it (Config.AutoBacksync). Safe to call once;
// also reached via the onexit hook registered in NewNode on process
// shutdown.
func (n *Node) Close() {
	n.Defrag.Stop()
	if n.Backup != nil && n.Config.AutoBacksync {
		n.Backup.Stop()
	}
}

// defragForwarder lets TrunkStore/CellStore hold a defragRequester before
// the real Defragmenter is constructed.
type defragForwarder struct {
	target defragRequester
}

func (f *defragForwarder) RequestDefrag(t *Trunk) <-chan struct{} {
	if f.target == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return f.target.RequestDefrag(t)
}
