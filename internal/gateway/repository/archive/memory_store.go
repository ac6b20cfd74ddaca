package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Put(_ context.Context, name string, r io.Reader, size int64) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("read blob %s: %w", name, err)
	}
	if int64(len(content)) != size {
		return fmt.Errorf("blob %s: got %d bytes, want %d", name, len(content), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = content
	return nil
}

func (s *MemoryStore) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	name, err := checkName(name)
	if err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[name]
	if !ok {
		return nil, 0, ErrNotFound.With("name", name)
	}
	return io.NopCloser(bytes.NewReader(raw)), int64(len(raw)), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, name)
	return nil
}

// Len reports how many blobs are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
