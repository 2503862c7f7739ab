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
	"runtime"
	"sync"

	"github.com/jtolds/gls"
)

// TrunkStore owns trunk_count identically-sized trunks and routes a cell id
// to its trunk by `partition mod trunk_count` (section 4.8).
type TrunkStore struct {
	trunks  []*Trunk
	cells   []*CellStore
	schemas *SchemaTable
}

// NewTrunkStore creates trunkCount trunks, each starting with one segment of
// segSize bytes and growing by further segments on demand, wiring a
// CellStore per trunk against the shared schema table. defrag may be nil.
func NewTrunkStore(trunkCount int, segSize int64, lockStripes int, schemas *SchemaTable, defrag defragRequester) *TrunkStore {
	ts := &TrunkStore{schemas: schemas}
	for i := 0; i < trunkCount; i++ {
		t := NewTrunk(i, segSize, lockStripes)
		ts.trunks = append(ts.trunks, t)
		ts.cells = append(ts.cells, NewCellStore(t, schemas, defrag))
	}
	return ts
}

// TrunkCount returns the number of trunks owned by the store.
func (ts *TrunkStore) TrunkCount() int { return len(ts.trunks) }

// Trunks returns the underlying trunks, e.g. for the defragmenter and
// durability writer to iterate over.
func (ts *TrunkStore) Trunks() []*Trunk { return ts.trunks }

// CellStoreAt returns the CellStore owning trunk index i, the same store
// Dispatch routes a partition p to when p mod TrunkCount() == i. Recovery
// does not use it; it routes each recovered cell through Dispatch.
func (ts *TrunkStore) CellStoreAt(i int) *CellStore { return ts.cells[i] }

// trunkFor routes a (partition, hash) pair to its owning CellStore.
func (ts *TrunkStore) trunkFor(partition uint64) *CellStore {
	idx := partition % uint64(len(ts.trunks))
	return ts.cells[idx]
}

// Dispatch routes id to its trunk and hands back the (CellStore, hash) pair
// a caller needs to invoke a single-cell operation (section 4.8: "dispatch
// (id, op, args) = op(trunks[trunk_id], hash(id), args)").
func (ts *TrunkStore) Dispatch(partition, hash uint64) (*CellStore, uint64) {
	return ts.trunkFor(partition), hash
}

// CellArg is one (partition, hash) addressed request in a batch call.
type CellArg struct {
	Partition uint64
	Hash      uint64
}

// BatchResult pairs a CellArg's hash with the outcome of applying op to it.
type BatchResult struct {
	Hash  uint64
	Value any
	Err   error
}

// DispatchBatch runs op against every item in args concurrently, fanning
// out across a CPU-sized worker pool the way iterateShards does for
// per-shard callbacks, and reduces into one BatchResult per item (section
// 4.8: "batch variants... reduce into {id: result}").
func (ts *TrunkStore) DispatchBatch(args []CellArg, op func(cs *CellStore, hash uint64) (any, error)) []BatchResult {
	results := make([]BatchResult, len(args))
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(args) {
		workers = len(args)
	}
	if workers == 0 {
		return results
	}

	jobs := make(chan int, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		gls.Go(func() func() {
			return func() {
				defer wg.Done()
				for i := range jobs {
					a := args[i]
					cs, h := ts.Dispatch(a.Partition, a.Hash)
					v, err := op(cs, h)
					results[i] = BatchResult{Hash: h, Value: v, Err: err}
				}
			}
		}())
	}
	for i := range args {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// DispatchBatchNoReply is the fire-and-forget batch variant: it discards
// results (section 4.8).
func (ts *TrunkStore) DispatchBatchNoReply(args []CellArg, op func(cs *CellStore, hash uint64) (any, error)) {
	ts.DispatchBatch(args, op)
}
