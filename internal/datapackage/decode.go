package datapackage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zip"

	"dardanelles/internal/tabular"
)

// Open decodes the archive at path.
func Open(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound.With("path", path)
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound.With("path", path)
	}
	return Read(f, info.Size())
}

// ReadBytes decodes an archive held in memory.
func ReadBytes(b []byte) (*Package, error) {
	return Read(bytes.NewReader(b), int64(len(b)))
}

// Decompression bounds. An archive may inflate to MaxExpansion times its own
// size, but never below MinInflatedBytes or above MaxInflatedBytes.
const (
	MaxExpansion           = 32
	MinInflatedBytes int64 = 64 << 20
	MaxInflatedBytes int64 = 2 << 30
)

// InflateLimit is the total number of decompressed bytes Read accepts from an
// archive of archiveSize bytes.
func InflateLimit(archiveSize int64) int64 {
	limit := archiveSize * MaxExpansion
	if archiveSize > MaxInflatedBytes/MaxExpansion {
		limit = MaxInflatedBytes
	}
	return min(max(limit, MinInflatedBytes), MaxInflatedBytes)
}

// Read decodes an archive. Decoding is all-or-nothing: the first structural
// problem aborts it.
func Read(r io.ReaderAt, size int64) (*Package, error) {
	return ReadLimit(r, size, InflateLimit(size))
}

// ReadLimit is Read with an explicit budget for the decompressed size of all
// members together. A limit <= 0 means InflateLimit(size).
func ReadLimit(r io.ReaderAt, size, limit int64) (*Package, error) {
	if limit <= 0 {
		limit = InflateLimit(size)
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, ErrInvalidMetadata.Withf("not a zip archive").Wrap(err)
	}
	budget := &limit

	raw, err := readMember(zr, MetadataFile, budget)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, ErrInvalidMetadata.Wrap(err)
	}

	tables := make([]*tabular.Table, len(meta.Resources))
	for i, res := range meta.Resources {
		if res.Mediatype != CSVMediatype {
			return nil, ErrUnsupportedMediatype.With(res.Path, res.Mediatype)
		}
		data, err := readMember(zr, res.Path, budget)
		if err != nil {
			return nil, err
		}
		table, err := tabular.ReadCSV(bytes.NewReader(data), res.Schema)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", res.Path, err)
		}
		tables[i] = table
	}

	nodes, err := resourceByPath(meta.Resources, tables, NodesFile)
	if err != nil {
		return nil, err
	}
	edges, err := resourceByPath(meta.Resources, tables, EdgesFile)
	if err != nil {
		return nil, err
	}
	return &Package{Metadata: meta, Nodes: nodes, Edges: edges}, nil
}

// readMember reads the single entry called name, charging its size to budget.
func readMember(zr *zip.Reader, name string, budget *int64) ([]byte, error) {
	var member *zip.File
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if member != nil {
			return nil, ErrMissingResource.With("path", name+" (duplicate member)")
		}
		member = f
	}
	if member == nil {
		return nil, ErrMissingResource.With("path", name)
	}
	if member.UncompressedSize64 > uint64(*budget) {
		return nil, ErrTooLarge.With("path", name)
	}
	rc, err := member.Open()
	if err != nil {
		return nil, ErrInvalidMetadata.With("path", name).Wrap(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, *budget+1))
	if err != nil {
		return nil, ErrInvalidMetadata.With("path", name).Wrap(err)
	}
	if int64(len(data)) > *budget {
		return nil, ErrTooLarge.With("path", name)
	}
	*budget -= int64(len(data))
	return data, nil
}

func resourceByPath(resources []Resource, tables []*tabular.Table, path string) (*tabular.Table, error) {
	match := -1
	for i, res := range resources {
		if res.Path != path {
			continue
		}
		if match >= 0 {
			return nil, ErrMissingResource.With("path", path+" (declared more than once)")
		}
		match = i
	}
	if match < 0 {
		return nil, ErrMissingResource.With("path", path)
	}
	return tables[match], nil
}
