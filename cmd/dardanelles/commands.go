package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"dardanelles/internal/datapackage"
	"dardanelles/internal/graph"
)

func newFlagSet(g *globals, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(g.stderr)
	return fs
}

func oneArg(fs *pflag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", usagef("%s: expected exactly one %s", fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func runCatalog(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "catalog")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	listing, err := c.Catalog(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		triples := make([][3]string, len(listing))
		for i, l := range listing {
			triples[i] = [3]string{l.Filename, l.Database, l.SHA256}
		}
		return writeJSON(g, triples)
	}
	tw := tabwriter.NewWriter(g.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATABASE\tSHA256\tFILENAME")
	for _, l := range listing {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Database, l.SHA256, l.Filename)
	}
	return tw.Flush()
}

func runUpload(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "upload")
	database := fs.String("database", "", "dataset name inside the archive (read from the archive when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs, "archive path")
	if err != nil {
		return err
	}
	if *database == "" {
		pkg, err := datapackage.Open(path)
		if err != nil {
			return err
		}
		*database = pkg.Database()
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	receipt, err := c.Upload(ctx, path, *database)
	if err != nil {
		return err
	}
	return writeJSON(g, receipt)
}

func exportFlags(fs *pflag.FlagSet) *datapackage.ExportOptions {
	opts := &datapackage.ExportOptions{}
	fs.StringVar(&opts.Author, "author", "", "author credited in the metadata")
	fs.StringVar(&opts.Description, "description", "", "package description")
	fs.StringVar(&opts.Version, "package-version", "", "package version")
	fs.BoolVar(&opts.AddUncertainty, "uncertainty", false, "write the uncertainty columns")
	return opts
}

func loadProvider(path string) (*graph.MemoryProvider, string, error) {
	ds, err := graph.LoadDataset(path)
	if err != nil {
		return nil, "", err
	}
	return graph.NewMemoryProvider(ds), ds.Name, nil
}

func runPublish(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "publish")
	opts := exportFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs, "dataset file")
	if err != nil {
		return err
	}
	provider, name, err := loadProvider(path)
	if err != nil {
		return err
	}
	opts.Database = name
	c, err := g.client()
	if err != nil {
		return err
	}
	receipt, err := c.UploadDatabase(ctx, provider, *opts)
	if err != nil {
		return err
	}
	return writeJSON(g, receipt)
}

func runExport(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "export")
	opts := exportFlags(fs)
	fs.StringVar(&opts.Directory, "dir", "", "output directory (default: working directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs, "dataset file")
	if err != nil {
		return err
	}
	provider, name, err := loadProvider(path)
	if err != nil {
		return err
	}
	opts.Database = name
	out, err := datapackage.Export(ctx, provider, *opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, out)
	return nil
}

func runDownload(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "download")
	dir := fs.String("dir", ".", "directory to write the archive into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := oneArg(fs, "hash")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	path, err := c.Download(ctx, hash, *dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, path)
	return nil
}

func runImport(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := oneArg(fs, "hash")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	gr, pkg, err := c.ImportFromHash(ctx, hash)
	if err != nil {
		return err
	}
	return writeJSON(g, summarize(pkg, gr))
}

func runLookup(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "lookup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := oneArg(fs, "hash")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	entry, err := c.Lookup(ctx, hash)
	if err != nil {
		return err
	}
	return writeJSON(g, entry)
}

func runStatus(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := oneArg(fs, "hash")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	state, err := c.Status(ctx, hash)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, state)
	return nil
}

func runInspect(_ context.Context, g *globals, args []string) error {
	fs := newFlagSet(g, "inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := oneArg(fs, "archive path")
	if err != nil {
		return err
	}
	pkg, err := datapackage.Open(path)
	if err != nil {
		return err
	}
	gr, err := graph.Reconstruct(pkg.Nodes, pkg.Edges)
	if err != nil {
		return err
	}
	return writeJSON(g, summarize(pkg, gr))
}

type summary struct {
	Name      string   `json:"name"`
	Database  string   `json:"database"`
	ID        string   `json:"id"`
	Created   string   `json:"created"`
	Depends   []string `json:"depends"`
	Nodes     int      `json:"nodes"`
	Exchanges int      `json:"exchanges"`
}

func summarize(pkg *datapackage.Package, gr graph.Graph) summary {
	return summary{
		Name:      pkg.Name(),
		Database:  pkg.Database(),
		ID:        pkg.Metadata.ID,
		Created:   pkg.Metadata.Created,
		Depends:   pkg.Depends(),
		Nodes:     len(gr),
		Exchanges: gr.ExchangeCount(),
	}
}

func writeJSON(g *globals, v any) error {
	enc := json.NewEncoder(g.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
