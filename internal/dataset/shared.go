// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow/go/v17/arrow"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/universalmind303/lancedb/internal/index"
)

const defaultCacheSize = 256

// shared is the process-wide state of one dataset location. Every handle
// opened on the same store and path uses the same commit lock, so commits
// from this process are serialized, and the same pin registry, so cleanup
// can see which versions open handles still read.
type shared struct {
	commitMu sync.Mutex

	pinMu sync.Mutex
	pins  map[int]int
	// condemned versions were claimed by cleanup and can no longer be pinned.
	condemned map[int]bool

	// Data, deletion and index files are immutable once written, so cached
	// decodes never go stale. Cached records are shared and must not be
	// released by readers.
	files     *lru.Cache[string, arrow.Record]
	deletions *lru.Cache[string, *roaring.Bitmap]
	indices   *lru.Cache[string, index.Index]
}

var (
	registryMu sync.Mutex
	registry   = map[string]*shared{}
)

func sharedFor(key string, cacheSize int) *shared {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := registry[key]; ok {
		return s
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	files, _ := lru.New[string, arrow.Record](cacheSize)
	deletions, _ := lru.New[string, *roaring.Bitmap](cacheSize)
	indices, _ := lru.New[string, index.Index](max(cacheSize/8, 8))
	s := &shared{
		pins:      map[int]int{},
		condemned: map[int]bool{},
		files:     files,
		deletions: deletions,
		indices:   indices,
	}
	registry[key] = s
	return s
}

// forget drops the shared state of a dataset that was deleted.
func forget(key string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, key)
}

// pin fails once cleanup has condemned version.
func (s *shared) pin(version int) bool {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	if s.condemned[version] {
		return false
	}
	s.pins[version]++
	return true
}

func (s *shared) unpin(version int) {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	if s.pins[version] <= 1 {
		delete(s.pins, version)
		return
	}
	s.pins[version]--
}

// condemn claims an unpinned version for pruning. A condemned version stays
// unpinnable, so a reader that loaded its manifest before the claim finds
// out when it tries to pin it.
func (s *shared) condemn(version int) bool {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	if s.pins[version] > 0 {
		return false
	}
	s.condemned[version] = true
	return true
}
