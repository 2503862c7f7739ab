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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"
)

// InstallSegment receives one segment image read from trunkID's replica
// file at record position segmentID; where its cells land is up to the
// implementation. It is the only place recovery touches cell semantics, and it
// lives entirely on the storage side of the package boundary: durability
// never parses a cell header, it only moves segment-sized byte blobs
// (section 9, "Cyclic references between components" — recovery may also
// route a cell to a node other than the one that originally backed it up,
// so it must not assume a direct trunk-store reference).
type InstallSegment func(trunkID, segmentID int, appendHead int64, data []byte) error

// Recoverer replays every target's replica files for the given trunk IDs
// into install, bounding concurrency the way the reference process bounds
// its own shard fan-out: a weighted semaphore caps how many segment scans
// run at once, separate from whatever per-cell concurrency install chooses
// to use internally.
type Recoverer struct {
	targets    []ReplicaTarget
	install    InstallSegment
	segmentSem *semaphore.Weighted
}

// NewRecoverer builds a recoverer. segmentConcurrency bounds how many
// (target, trunk) replica files are scanned in parallel; callers typically
// pass min(10*nodeCount, runtime.NumCPU()) per spec section 4.7.
func NewRecoverer(targets []ReplicaTarget, install InstallSegment, segmentConcurrency int) *Recoverer {
	if segmentConcurrency < 1 {
		segmentConcurrency = 1
	}
	return &Recoverer{
		targets:    targets,
		install:    install,
		segmentSem: semaphore.NewWeighted(int64(segmentConcurrency)),
	}
}

// DefaultSegmentConcurrency returns min(10*nodeCount, runtime.NumCPU()),
// clamped to at least 1.
func DefaultSegmentConcurrency(nodeCount int) int {
	n := 10 * nodeCount
	if cpu := runtime.NumCPU(); cpu < n {
		n = cpu
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Recover replays every not-yet-imported trunk in trunkIDs from every
// target, in segment order, then marks each (target, trunk) imported so a
// later call skips it (spec section 4.7's "recovery via append-ordered
// segment image scanning").
func (r *Recoverer) Recover(ctx context.Context, trunkIDs []int) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(trunkIDs)*len(r.targets))

	for _, target := range r.targets {
		for _, trunkID := range trunkIDs {
			if target.IsImported(trunkID) {
				continue
			}
			if err := r.segmentSem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func(target ReplicaTarget, trunkID int) {
				defer wg.Done()
				defer r.segmentSem.Release(1)
				if err := r.recoverOne(target, trunkID); err != nil {
					errCh <- fmt.Errorf("recover trunk %d: %w", trunkID, err)
				}
			}(target, trunkID)
		}
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err // report the first error; every (target, trunk) that failed stays unmarked for a later retry, the rest are marked
	}
	return nil
}

func (r *Recoverer) recoverOne(target ReplicaTarget, trunkID int) error {
	rf, err := target.OpenReplicaFile(trunkID)
	if err != nil {
		return err
	}
	defer rf.Close()

	for {
		segmentID, appendHead, data, err := rf.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := r.install(trunkID, segmentID, appendHead, data); err != nil {
			return err
		}
	}
	return target.MarkImported(trunkID)
}

// BackupRootWatcher watches a local filesystem backup root for replica
// files appearing after startup (an operator dropping in a snapshot, or a
// sibling process finishing a write) and triggers recovery for the trunk
// they belong to. Only meaningful for FileTarget-style backends; S3/Ceph
// recovery is driven by RecoverBackupAtStartup instead.
type BackupRootWatcher struct {
	watcher *fsnotify.Watcher
	onReady func(trunkID int)
	done    chan struct{}
}

// WatchBackupRoot starts watching dir for trunk-<id>.replica files and
// calls onReady(id) on every create or write event for one, so a file
// still being written triggers onReady more than once.
func WatchBackupRoot(dir string, onReady func(trunkID int)) (*BackupRootWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &BackupRootWatcher{watcher: watcher, onReady: onReady, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *BackupRootWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if id, ok := trunkIDFromReplicaPath(ev.Name); ok {
				w.onReady(id)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("durability: backup root watch error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *BackupRootWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func trunkIDFromReplicaPath(path string) (int, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "trunk-") || !strings.HasSuffix(name, ".replica") {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, "trunk-"), ".replica")
	id, err := strconv.Atoi(mid)
	if err != nil {
		return 0, false
	}
	return id, true
}
