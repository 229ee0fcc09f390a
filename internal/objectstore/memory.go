// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps objects in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	name    string
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{objects: make(map[string][]byte)}
	s.name = fmt.Sprintf("%p", s)
	return s
}

var (
	sharedMu     sync.Mutex
	sharedStores = map[string]*MemoryStore{}
)

// SharedMemoryStore returns the process-wide store registered under name,
// creating it on first use, so that memory:// connections to the same name
// see the same tables.
func SharedMemoryStore(name string) *MemoryStore {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if s, ok := sharedStores[name]; ok {
		return s
	}
	s := &MemoryStore{name: name, objects: make(map[string][]byte)}
	sharedStores[name] = s
	return s
}

func (s *MemoryStore) URI() string {
	return "memory://" + s.name
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	s.objects[key] = buf
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return immediatePrefixes(keys, prefix), nil
}
