package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/heavystatus/newsroom-edge/internal/datastore/entities"
	"github.com/heavystatus/newsroom-edge/internal/datastore/repository"
)

// GormStorage persists partitions through the cache repository.
type GormStorage struct {
	repo repository.CacheRepository
}

// NewGormStorage creates a storage backed by repo.
func NewGormStorage(repo repository.CacheRepository) *GormStorage {
	return &GormStorage{repo: repo}
}

func (s *GormStorage) Open(ctx context.Context, name string) (Partition, error) {
	part, err := s.repo.EnsurePartition(ctx, name)
	if err != nil {
		return nil, err
	}
	return &gormPartition{repo: s.repo, id: part.ID, name: part.Name}, nil
}

func (s *GormStorage) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.repo.GetPartition(ctx, name)
	if errors.Is(err, repository.ErrPartitionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *GormStorage) Names(ctx context.Context) ([]string, error) {
	parts, err := s.repo.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parts))
	for i := range parts {
		names = append(names, parts[i].Name)
	}
	return names, nil
}

func (s *GormStorage) Delete(ctx context.Context, name string) (bool, error) {
	return s.repo.DeletePartition(ctx, name)
}

type gormPartition struct {
	repo repository.CacheRepository
	id   uint
	name string
}

func (p *gormPartition) Name() string { return p.name }

func (p *gormPartition) Match(ctx context.Context, key string) (*Snapshot, bool, error) {
	entry, err := p.repo.GetEntry(ctx, p.id, key)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	header := http.Header{}
	if entry.Header != "" {
		if err := json.Unmarshal([]byte(entry.Header), &header); err != nil {
			return nil, false, fmt.Errorf("corrupt header for %s in %s: %w", key, p.name, err)
		}
	}
	return &Snapshot{
		URL:      entry.URL,
		Status:   entry.Status,
		Header:   header,
		Body:     entry.Body,
		StoredAt: entry.StoredAt,
	}, true, nil
}

func (p *gormPartition) Put(ctx context.Context, key string, snap *Snapshot) error {
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	return p.repo.PutEntry(ctx, &entities.CacheEntry{
		PartitionID: p.id,
		RequestKey:  key,
		URL:         snap.URL,
		Status:      snap.Status,
		Header:      string(header),
		Body:        snap.Body,
		StoredAt:    snap.StoredAt,
	})
}

func (p *gormPartition) Keys(ctx context.Context) ([]string, error) {
	return p.repo.ListEntryKeys(ctx, p.id)
}
