package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]Entry),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	e, err := validate(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[e.SHA256]; ok {
		return ErrAlreadyExists.With("sha256", e.SHA256)
	}
	s.byHash[e.SHA256] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sha256 string) (Entry, error) {
	hash, err := lookupKey(sha256)
	if err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHash[hash]
	if !ok {
		return Entry{}, ErrNotFound.With("sha256", hash)
	}
	return e, nil
}

func (s *MemoryStore) List(context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.byHash))
	for _, e := range s.byHash {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SHA256 < out[j].SHA256
	})
	return out, nil
}

func (s *MemoryStore) RecordDownload(_ context.Context, sha256 string, at time.Time) error {
	hash, err := lookupKey(sha256)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byHash[hash]
	if !ok {
		return ErrNotFound.With("sha256", hash)
	}
	e.AccessedAt = at.UTC()
	e.Downloads++
	s.byHash[hash] = e
	return nil
}

func (s *MemoryStore) Close() error { return nil }
