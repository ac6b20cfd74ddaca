package datapackage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"dardanelles/internal/graph"
	"dardanelles/internal/tabular"
)

// ExportOptions configures Export.
type ExportOptions struct {
	Database       string
	Author         string
	Description    string
	Version        string
	ID             string
	Licenses       []License
	AddUncertainty bool
	// Directory receives the archive; the working directory when empty.
	Directory string
	// Now stamps the created field; time.Now when nil.
	Now func() time.Time
}

// Build flattens a dataset from provider into an in-memory package. Dataset
// existence and emptiness are checked before anything else is read.
func Build(ctx context.Context, provider graph.Provider, opts ExportOptions) (*Package, error) {
	exists, err := provider.Exists(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("check dataset: %w", err)
	}
	if !exists {
		return nil, ErrDatasetNotFound.With("database", opts.Database)
	}
	n, err := provider.Len(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("count dataset: %w", err)
	}
	if n == 0 {
		return nil, ErrDatasetEmpty.With("database", opts.Database)
	}

	name := CleanName(opts.Database)
	if err := CheckName(name); err != nil {
		return nil, err
	}

	nodes, err := provider.Nodes(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	edges, err := provider.Edges(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	depends, err := provider.Depends(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("read depends: %w", err)
	}

	nodeTable, index, err := graph.FlattenNodes(nodes)
	if err != nil {
		return nil, err
	}
	edgeTable, err := graph.FlattenEdges(edges, index, opts.AddUncertainty)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	licenses := opts.Licenses
	if len(licenses) == 0 {
		licenses = DefaultLicenses
	}
	if depends == nil {
		depends = []string{}
	}

	meta := Metadata{
		Profile:     PackageProfile,
		Name:        name,
		Database:    opts.Database,
		Description: opts.Description,
		ID:          id,
		Licenses:    licenses,
		Resources: []Resource{
			newResource(NodesFile, nodeTable),
			newResource(EdgesFile, edgeTable),
		},
		Depends: depends,
		Created: now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		Version: strings.TrimSpace(opts.Version),
	}
	if author := strings.TrimSpace(opts.Author); author != "" {
		meta.Contributors = []Contributor{{Title: author, Role: "author"}}
	}
	return &Package{Metadata: meta, Nodes: nodeTable, Edges: edgeTable}, nil
}

func newResource(path string, t *tabular.Table) Resource {
	return Resource{
		Path:      path,
		Profile:   ResourceProfile,
		Mediatype: CSVMediatype,
		Schema:    t.Schema,
	}
}

// Export writes the dataset as <safe name>.zip under opts.Directory and
// returns the archive path. The archive is removed again if writing fails.
func Export(ctx context.Context, provider graph.Provider, opts ExportOptions) (string, error) {
	pkg, err := Build(ctx, provider, opts)
	if err != nil {
		return "", err
	}

	dir := opts.Directory
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	path := filepath.Join(dir, ArchiveFilename(opts.Database))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := Write(f, pkg); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close archive: %w", err)
	}
	return path, nil
}

// Write serialises pkg as a zip archive.
func Write(w io.Writer, pkg *Package) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	members := []struct {
		name  string
		table *tabular.Table
	}{
		{NodesFile, pkg.Nodes},
		{EdgesFile, pkg.Edges},
	}
	for _, m := range members {
		mw, err := zw.Create(m.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
		if err := tabular.WriteCSV(mw, m.table); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}

	mw, err := zw.Create(MetadataFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetadataFile, err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pkg.Metadata); err != nil {
		return fmt.Errorf("write %s: %w", MetadataFile, err)
	}
	return zw.Close()
}
