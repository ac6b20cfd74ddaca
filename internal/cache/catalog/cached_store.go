// Package catalog wraps a catalog store with read-through LRU caches for
// hash lookups and the full listing.
package catalog

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	catalogrepo "dardanelles/internal/gateway/repository/catalog"
)

type (
	Store = catalogrepo.Store
	Entry = catalogrepo.Entry
)

type CacheConfig struct {
	EntryTTL        time.Duration
	EntryMaxEntries int
	ListTTL         time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		EntryTTL:        5 * time.Minute,
		EntryMaxEntries: 1024,
		ListTTL:         30 * time.Second,
	}
}

type MetricsSnapshot struct {
	EntryHits      uint64
	EntryMisses    uint64
	ListHits       uint64
	ListMisses     uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	entryHits      atomic.Uint64
	entryMisses    atomic.Uint64
	listHits       atomic.Uint64
	listMisses     atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		EntryHits:      m.entryHits.Load(),
		EntryMisses:    m.entryMisses.Load(),
		ListHits:       m.listHits.Load(),
		ListMisses:     m.listMisses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

const listKey = "all"

// CachedStore serves Get and List from memory. Writes go to the origin first
// and then invalidate; a failed origin read is never cached.
type CachedStore struct {
	origin Store

	entries *expirable.LRU[string, Entry]
	list    *expirable.LRU[string, []Entry]
	metrics Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = def.EntryTTL
	}
	if cfg.EntryMaxEntries <= 0 {
		cfg.EntryMaxEntries = def.EntryMaxEntries
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	return &CachedStore{
		origin:  origin,
		entries: expirable.NewLRU[string, Entry](cfg.EntryMaxEntries, nil, cfg.EntryTTL),
		list:    expirable.NewLRU[string, []Entry](1, nil, cfg.ListTTL),
	}
}

func (s *CachedStore) Migrate(ctx context.Context) error {
	return s.origin.Migrate(ctx)
}

func (s *CachedStore) Insert(ctx context.Context, e Entry) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Insert(ctx, e); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.list.Remove(listKey)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, sha256 string) (Entry, error) {
	key := strings.ToLower(strings.TrimSpace(sha256))
	if e, ok := s.entries.Get(key); ok {
		s.metrics.entryHits.Add(1)
		return e, nil
	}
	s.metrics.entryMisses.Add(1)
	s.metrics.originReads.Add(1)

	e, err := s.origin.Get(ctx, sha256)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return Entry{}, err
	}
	s.entries.Add(key, e)
	return e, nil
}

func (s *CachedStore) List(ctx context.Context) ([]Entry, error) {
	if list, ok := s.list.Get(listKey); ok {
		s.metrics.listHits.Add(1)
		return append([]Entry(nil), list...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	list, err := s.origin.List(ctx)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.list.Add(listKey, append([]Entry(nil), list...))
	return list, nil
}

func (s *CachedStore) RecordDownload(ctx context.Context, sha256 string, at time.Time) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.RecordDownload(ctx, sha256, at); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.entries.Remove(strings.ToLower(strings.TrimSpace(sha256)))
	s.list.Remove(listKey)
	return nil
}

func (s *CachedStore) Close() error {
	s.entries.Purge()
	s.list.Purge()
	return s.origin.Close()
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
