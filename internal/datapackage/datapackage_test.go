package datapackage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dardanelles/internal/graph"
	"dardanelles/internal/tabular"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
}

func exampleProvider() *graph.MemoryProvider {
	return graph.NewMemoryProvider(&graph.Dataset{
		Name:    "ExampleDB",
		Depends: []string{"biosphere3"},
		Nodes: []graph.Node{
			{Database: "ExampleDB", Code: "A", Attributes: map[string]any{"name": "Proc A", "unit": "kg", "location_index": 0}},
			{Database: "ExampleDB", Code: "B", Attributes: map[string]any{"name": "Proc B", "categories": []any{"energy", "heat"}}},
		},
		Edges: []graph.Edge{
			{Source: graph.Key{Database: "ExampleDB", Code: "A"}, Target: graph.Key{Database: "ExampleDB", Code: "A"}, Amount: 1, Type: "production"},
			{Source: graph.Key{Database: "ExampleDB", Code: "A"}, Target: graph.Key{Database: "ExampleDB", Code: "B"}, Amount: 0.25, Type: "technosphere",
				Attributes: map[string]any{"uncertainty_type": 2, "loc": -1.386, "scale": 0.1, "negative": false}},
			{Source: graph.Key{Database: "biosphere3", Code: "co2"}, Target: graph.Key{Database: "ExampleDB", Code: "B"}, Amount: 3, Type: "biosphere"},
		},
	})
}

func exportExample(t *testing.T, opts ExportOptions) string {
	t.Helper()
	if opts.Database == "" {
		opts.Database = "ExampleDB"
	}
	opts.Directory = t.TempDir()
	opts.Now = fixedNow
	path, err := Export(context.Background(), exampleProvider(), opts)
	require.NoError(t, err)
	return path
}

func TestExportWritesThreeMembers(t *testing.T) {
	path := exportExample(t, ExportOptions{Author: "Jane", Description: "example", AddUncertainty: true})
	assert.Equal(t, "ExampleDB.zip", filepath.Base(path))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{NodesFile, EdgesFile, MetadataFile}, names)
}

func TestRoundTrip(t *testing.T) {
	for _, uncertainty := range []bool{true, false} {
		opts := ExportOptions{Database: "ExampleDB", Description: "example", AddUncertainty: uncertainty, Now: fixedNow}
		built, err := Build(context.Background(), exampleProvider(), opts)
		require.NoError(t, err)

		path := exportExample(t, opts)
		pkg, err := Open(path)
		require.NoError(t, err)

		assert.Equal(t, built.Nodes.Schema, pkg.Nodes.Schema)
		assert.Equal(t, built.Edges.Schema, pkg.Edges.Schema)
		require.Equal(t, built.Nodes.Len(), pkg.Nodes.Len())
		require.Equal(t, built.Edges.Len(), pkg.Edges.Len())

		assert.Equal(t, int64(1), pkg.Nodes.Rows[0]["id"])
		assert.Equal(t, "Proc A", pkg.Nodes.Rows[0]["name"])
		assert.Equal(t, int64(0), pkg.Nodes.Rows[0]["location_index"])
		assert.Equal(t, `["energy","heat"]`, pkg.Nodes.Rows[1]["categories"])
		assert.Equal(t, 0.25, pkg.Edges.Rows[1]["edge_amount"])
		assert.Equal(t, "technosphere", pkg.Edges.Rows[1]["edge_type"])
		assert.Nil(t, pkg.Edges.Rows[2]["source_id"])

		_, hasLoc := pkg.Edges.Schema.Field("loc")
		assert.Equal(t, uncertainty, hasLoc)
		if uncertainty {
			assert.Equal(t, -1.386, pkg.Edges.Rows[1]["loc"])
			assert.Equal(t, false, pkg.Edges.Rows[1]["negative"])
		}
	}
}

func TestMetadata(t *testing.T) {
	path := exportExample(t, ExportOptions{Author: "Jane", Description: "example", Version: "1.0", ID: "fixed-id"})
	pkg, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, PackageProfile, pkg.Metadata.Profile)
	assert.Equal(t, "exampledb", pkg.Name())
	assert.Equal(t, "ExampleDB", pkg.Database())
	assert.Equal(t, "example", pkg.Description())
	assert.Equal(t, []string{"biosphere3"}, pkg.Depends())
	assert.Equal(t, "fixed-id", pkg.Metadata.ID)
	assert.Equal(t, DefaultLicenses, pkg.Metadata.Licenses)
	assert.Equal(t, "2024-03-01T12:30:00.000000Z", pkg.Metadata.Created)
	assert.Equal(t, "1.0", pkg.Metadata.Version)
	assert.Equal(t, []Contributor{{Title: "Jane", Role: "author"}}, pkg.Metadata.Contributors)
	require.Len(t, pkg.Metadata.Resources, 2)
	assert.Equal(t, "id", pkg.Metadata.Resources[0].Schema.PrimaryKey)
	assert.Equal(t, CSVMediatype, pkg.Metadata.Resources[1].Mediatype)
}

func TestExportUnderscoreDatasetIsNotHidden(t *testing.T) {
	provider := graph.NewMemoryProvider(&graph.Dataset{
		Name:  "_",
		Nodes: []graph.Node{{Database: "_", Code: "A", Attributes: map[string]any{"name": "Proc A"}}},
		Edges: []graph.Edge{{Source: graph.Key{Database: "_", Code: "A"}, Target: graph.Key{Database: "_", Code: "A"}, Amount: 1, Type: "production"}},
	})
	path, err := Export(context.Background(), provider, ExportOptions{Database: "_", Directory: t.TempDir(), Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, "_.zip", filepath.Base(path))

	pkg, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "_", pkg.Database())
}

func TestExportIDIsFreshPerCall(t *testing.T) {
	a, err := Open(exportExample(t, ExportOptions{}))
	require.NoError(t, err)
	b, err := Open(exportExample(t, ExportOptions{}))
	require.NoError(t, err)

	assert.NotEqual(t, a.Metadata.ID, b.Metadata.ID)
	assert.Len(t, a.Metadata.ID, 32)
	assert.Equal(t, a.Nodes, b.Nodes)
	assert.Equal(t, a.Edges, b.Edges)
}

func TestExportPreconditions(t *testing.T) {
	provider := exampleProvider()
	provider.Add(&graph.Dataset{Name: "Empty"})
	provider.Add(&graph.Dataset{Name: "???", Nodes: []graph.Node{{Database: "???", Code: "x"}}})
	dir := t.TempDir()

	cases := []struct {
		database string
		want     error
	}{
		{"missing", ErrDatasetNotFound},
		{"Empty", ErrDatasetEmpty},
		{"???", ErrInvalidName},
	}
	for _, tc := range cases {
		t.Run(tc.database, func(t *testing.T) {
			_, err := Export(context.Background(), provider, ExportOptions{Database: tc.database, Directory: dir})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file written on a failed export")
}

func TestExampleDBEndToEnd(t *testing.T) {
	provider := graph.NewMemoryProvider(&graph.Dataset{
		Name:  "ExampleDB",
		Nodes: []graph.Node{{Database: "ExampleDB", Code: "A", Attributes: map[string]any{"name": "Proc A"}}},
		Edges: []graph.Edge{{
			Source: graph.Key{Database: "ExampleDB", Code: "A"},
			Target: graph.Key{Database: "ExampleDB", Code: "A"},
			Amount: 0,
			Type:   "production",
		}},
	})
	path, err := Export(context.Background(), provider, ExportOptions{Database: "ExampleDB", Directory: t.TempDir()})
	require.NoError(t, err)

	pkg, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 1, pkg.Nodes.Len())
	require.Equal(t, 1, pkg.Edges.Len())
	assert.Equal(t, 0.0, pkg.Edges.Rows[0]["edge_amount"])

	g, err := graph.Reconstruct(pkg.Nodes, pkg.Edges)
	require.NoError(t, err)
	require.Len(t, g, 1)
	node := g[graph.Key{Database: "ExampleDB", Code: "A"}]
	require.NotNil(t, node)
	assert.Equal(t, "Proc A", node.Attributes["name"])
	require.Len(t, node.Exchanges, 1)
	ex := node.Exchanges[0]
	assert.Equal(t, 0.0, ex.Amount)
	assert.Equal(t, "production", ex.Type)
	assert.Equal(t, &graph.Key{Database: "ExampleDB", Code: "A"}, ex.Input)
}

type member struct {
	name string
	body string
}

func writeArchive(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func metadataJSON(t *testing.T, resources ...Resource) string {
	t.Helper()
	raw, err := json.Marshal(Metadata{Profile: PackageProfile, Name: "x", Database: "x", Resources: resources, Depends: []string{}})
	require.NoError(t, err)
	return string(raw)
}

var (
	nodesSchema = tabular.Schema{PrimaryKey: "id", Fields: []tabular.Field{
		{Name: "id", Type: tabular.Number}, {Name: "database", Type: tabular.String}, {Name: "code", Type: tabular.String},
	}}
	edgesSchema = tabular.Schema{Fields: []tabular.Field{
		{Name: "target_id", Type: tabular.Number}, {Name: "source_id", Type: tabular.Number},
		{Name: "edge_amount", Type: tabular.Number}, {Name: "edge_type", Type: tabular.String},
	}}
	nodesCSV = "id,database,code\n1,x,A\n"
	edgesCSV = "target_id,source_id,edge_amount,edge_type\n1,1,1.0,production\n"
)

func csvResource(path string, schema tabular.Schema) Resource {
	return Resource{Path: path, Profile: ResourceProfile, Mediatype: CSVMediatype, Schema: schema}
}

func TestReadErrors(t *testing.T) {
	cases := []struct {
		name    string
		archive []byte
		want    error
	}{
		{
			name:    "not a zip",
			archive: []byte("plain text"),
			want:    ErrInvalidMetadata,
		},
		{
			name:    "no metadata",
			archive: writeArchive(t, member{NodesFile, nodesCSV}, member{EdgesFile, edgesCSV}),
			want:    ErrMissingResource,
		},
		{
			name:    "bad metadata",
			archive: writeArchive(t, member{MetadataFile, "{"}),
			want:    ErrInvalidMetadata,
		},
		{
			name: "edges not declared",
			archive: writeArchive(t,
				member{NodesFile, nodesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema))}),
			want: ErrMissingResource,
		},
		{
			name: "declared member absent",
			archive: writeArchive(t,
				member{NodesFile, nodesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))}),
			want: ErrMissingResource,
		},
		{
			name: "nodes declared twice",
			archive: writeArchive(t,
				member{NodesFile, nodesCSV},
				member{EdgesFile, edgesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))}),
			want: ErrMissingResource,
		},
		{
			name: "duplicate member",
			archive: writeArchive(t,
				member{NodesFile, nodesCSV},
				member{NodesFile, "id,database,code\n2,x,B\n"},
				member{EdgesFile, edgesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))}),
			want: ErrMissingResource,
		},
		{
			name: "schema mismatch",
			archive: writeArchive(t,
				member{NodesFile, "id,code,database\n1,A,x\n"},
				member{EdgesFile, edgesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))}),
			want: tabular.ErrSchemaMismatch,
		},
		{
			name: "json resource",
			archive: writeArchive(t,
				member{NodesFile, nodesCSV},
				member{EdgesFile, edgesCSV},
				member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema),
					Resource{Path: EdgesFile, Mediatype: "application/json", Schema: edgesSchema})}),
			want: ErrUnsupportedMediatype,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkg, err := ReadBytes(tc.archive)
			assert.Nil(t, pkg)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestInflateLimit(t *testing.T) {
	assert.Equal(t, MinInflatedBytes, InflateLimit(0))
	assert.Equal(t, MinInflatedBytes, InflateLimit(405_000))
	assert.Equal(t, int64(100<<20)*MaxExpansion, InflateLimit(100<<20))
	assert.Equal(t, MaxInflatedBytes, InflateLimit(1<<40))
}

func TestReadRejectsOversizedMembers(t *testing.T) {
	bigNodes := "id,database,code\n1,x," + strings.Repeat("A", 4<<20) + "\n"
	archive := writeArchive(t,
		member{NodesFile, bigNodes},
		member{EdgesFile, edgesCSV},
		member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))})
	require.Less(t, len(archive), 64<<10)

	pkg, err := ReadLimit(bytes.NewReader(archive), int64(len(archive)), 1<<20)
	assert.Nil(t, pkg)
	assert.ErrorIs(t, err, ErrTooLarge)

	// The budget is shared: each member fits, the sum does not.
	pkg, err = ReadLimit(bytes.NewReader(archive), int64(len(archive)), int64(len(bigNodes))+16)
	assert.Nil(t, pkg)
	assert.ErrorIs(t, err, ErrTooLarge)

	pkg, err = ReadLimit(bytes.NewReader(archive), int64(len(archive)), 8<<20)
	require.NoError(t, err)
	assert.Equal(t, 1, pkg.Nodes.Len())
}

func TestReadDefaultLimitStopsInflationBomb(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a large archive")
	}
	bomb := "id,database,code\n1,x," + strings.Repeat("A", int(MinInflatedBytes)+1) + "\n"
	archive := writeArchive(t,
		member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))},
		member{NodesFile, bomb},
		member{EdgesFile, edgesCSV})

	pkg, err := ReadBytes(archive)
	assert.Nil(t, pkg)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Less(t, len(err.Error()), 1024)
}

func TestReadMinimalArchive(t *testing.T) {
	archive := writeArchive(t,
		member{NodesFile, nodesCSV},
		member{EdgesFile, edgesCSV},
		member{MetadataFile, metadataJSON(t, csvResource(NodesFile, nodesSchema), csvResource(EdgesFile, edgesSchema))})

	pkg, err := ReadBytes(archive)
	require.NoError(t, err)
	assert.Equal(t, 1, pkg.Nodes.Len())
	assert.Equal(t, 1.0, pkg.Edges.Rows[0]["edge_amount"])
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.zip"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Open(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteToBuffer(t *testing.T) {
	pkg, err := Build(context.Background(), exampleProvider(), ExportOptions{Database: "ExampleDB", Now: fixedNow, ID: "id"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, pkg))

	got, err := ReadBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pkg.Metadata, got.Metadata)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "us-eeio-1.1", CleanName("US EEIO 1.1"))
	assert.Equal(t, "mobility-example", CleanName("  Mobility example "))
	assert.NoError(t, CheckName("us-eeio-1.1"))
	for _, bad := range []string{"", "..", ".hidden", "a/b", `a\b`} {
		assert.ErrorIs(t, CheckName(bad), ErrInvalidName, bad)
	}

	assert.Equal(t, "US-EEIO-1.1.zip", ArchiveFilename("US EEIO 1.1"))
	assert.Equal(t, "passwd.zip", ArchiveFilename("../../etc/passwd"))
	assert.Equal(t, "data.zip", ArchiveFilename("data.zip"))
	assert.Equal(t, "_.zip", ArchiveFilename("_"))
	assert.Equal(t, "my_file.zip", SafeFilename("my file.zip"))
	assert.Equal(t, "report.zip", SafeFilename("..\\report.zip"))
	assert.False(t, strings.HasPrefix(SafeFilename(".hidden.zip"), "."))
}
