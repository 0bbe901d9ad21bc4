package cachestore

import (
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps partitions in process memory. Entries never expire;
// partitions go away only through Delete.
type MemoryStorage struct {
	mu         sync.Mutex
	partitions *gocache.Cache
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: gocache.New(gocache.NoExpiration, 0)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions.Get(name); ok {
		return p.(*memoryPartition), nil
	}
	p := &memoryPartition{name: name, entries: gocache.New(gocache.NoExpiration, 0)}
	s.partitions.Set(name, p, gocache.NoExpiration)
	return p, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	_, ok := s.partitions.Get(name)
	return ok, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	items := s.partitions.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions.Get(name); !ok {
		return false, nil
	}
	s.partitions.Delete(name)
	return true, nil
}

type memoryPartition struct {
	name    string
	entries *gocache.Cache
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(_ context.Context, key string) (*Snapshot, bool, error) {
	v, ok := p.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	snap := *v.(*Snapshot)
	return &snap, true, nil
}

func (p *memoryPartition) Put(_ context.Context, key string, snap *Snapshot) error {
	stored := *snap
	stored.Header = snap.Header.Clone()
	stored.Body = slices.Clone(snap.Body)
	p.entries.Set(key, &stored, gocache.NoExpiration)
	return nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	items := p.entries.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
