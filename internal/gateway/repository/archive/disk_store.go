package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DiskStore keeps blobs as files in one directory. Reads, writes and removals
// go through an os.Root so names can never resolve outside it.
type DiskStore struct {
	dir string

	initOnce sync.Once
	initErr  error
	root     *os.Root
}

func NewDiskStore(dir string) (*DiskStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &DiskStore{dir: abs}, nil
}

func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) Migrate(context.Context) error {
	s.initOnce.Do(func() {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.initErr = fmt.Errorf("create archive directory: %w", err)
			return
		}
		s.root, s.initErr = os.OpenRoot(s.dir)
	})
	return s.initErr
}

func (s *DiskStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	// Write under a temporary name and rename, so a crashed upload never
	// leaves a partial blob under its final name.
	tmp := ".tmp-" + uuid.NewString()
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create blob %s: %w", name, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(r, size+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("write blob %s: %w", name, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close blob %s: %w", name, closeErr)
	case n != size:
		err = fmt.Errorf("blob %s: got %d bytes, want %d", name, n, size)
	}
	if err != nil {
		_ = s.root.Remove(tmp)
		return err
	}
	// checkName guarantees a flat name, so joining stays inside dir.
	if err := os.Rename(filepath.Join(s.dir, tmp), filepath.Join(s.dir, name)); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("commit blob %s: %w", name, err)
	}
	return nil
}

func (s *DiskStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	name, err := checkName(name)
	if err != nil {
		return nil, 0, err
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, 0, err
	}
	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound.With("name", name)
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, ErrNotFound.With("name", name)
	}
	return f, info.Size(), nil
}

func (s *DiskStore) Delete(ctx context.Context, name string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

func (s *DiskStore) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}
