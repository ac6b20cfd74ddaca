package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Provider is the source of datasets for export. The graph engine behind it
// is not part of this module; MemoryProvider is the bundled implementation.
type Provider interface {
	Exists(ctx context.Context, database string) (bool, error)
	Len(ctx context.Context, database string) (int, error)
	Nodes(ctx context.Context, database string) ([]Node, error)
	Edges(ctx context.Context, database string) ([]Edge, error)
	Depends(ctx context.Context, database string) ([]string, error)
}

// Dataset is one named collection of nodes and edges.
type Dataset struct {
	Name    string
	Depends []string
	Nodes   []Node
	Edges   []Edge
}

// MemoryProvider holds datasets in memory, in insertion order.
type MemoryProvider struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

func NewMemoryProvider(datasets ...*Dataset) *MemoryProvider {
	p := &MemoryProvider{datasets: make(map[string]*Dataset)}
	for _, ds := range datasets {
		p.Add(ds)
	}
	return p
}

// Add registers or replaces a dataset.
func (p *MemoryProvider) Add(ds *Dataset) {
	if ds == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.datasets[ds.Name] = ds
}

// Names lists the registered datasets.
func (p *MemoryProvider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.datasets))
	for name := range p.datasets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p *MemoryProvider) get(database string) (*Dataset, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ds, ok := p.datasets[database]
	if !ok {
		return nil, fmt.Errorf("dataset %q not found", database)
	}
	return ds, nil
}

func (p *MemoryProvider) Exists(_ context.Context, database string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.datasets[database]
	return ok, nil
}

func (p *MemoryProvider) Len(_ context.Context, database string) (int, error) {
	ds, err := p.get(database)
	if err != nil {
		return 0, err
	}
	return len(ds.Nodes), nil
}

func (p *MemoryProvider) Nodes(_ context.Context, database string) ([]Node, error) {
	ds, err := p.get(database)
	if err != nil {
		return nil, err
	}
	return append([]Node(nil), ds.Nodes...), nil
}

func (p *MemoryProvider) Edges(_ context.Context, database string) ([]Edge, error) {
	ds, err := p.get(database)
	if err != nil {
		return nil, err
	}
	return append([]Edge(nil), ds.Edges...), nil
}

func (p *MemoryProvider) Depends(_ context.Context, database string) ([]string, error) {
	ds, err := p.get(database)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ds.Depends...), nil
}

// datasetFile is the on-disk JSON layout read by LoadDataset:
//
//	{"name": "db", "depends": ["up"],
//	 "nodes": [{"database": "db", "code": "A", "name": "..."}],
//	 "edges": [{"input": ["db", "A"], "output": ["db", "A"], "amount": 1, "type": "production"}]}
type datasetFile struct {
	Name    string            `json:"name"`
	Depends []string          `json:"depends"`
	Nodes   []json.RawMessage `json:"nodes"`
	Edges   []json.RawMessage `json:"edges"`
}

// LoadDataset reads a dataset from a JSON file.
func LoadDataset(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file datasetFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	name := strings.TrimSpace(file.Name)
	if name == "" {
		return nil, fmt.Errorf("%s: dataset name is required", path)
	}
	ds := &Dataset{Name: name, Depends: file.Depends}
	for i, rawNode := range file.Nodes {
		attrs, err := decodeObject(rawNode)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		node := Node{
			Database: stringAttr(attrs, "database"),
			Code:     stringAttr(attrs, "code"),
		}
		if node.Database == "" {
			node.Database = name
		}
		if node.Code == "" {
			return nil, fmt.Errorf("node %d: code is required", i)
		}
		delete(attrs, "database")
		delete(attrs, "code")
		node.Attributes = attrs
		ds.Nodes = append(ds.Nodes, node)
	}
	for i, rawEdge := range file.Edges {
		attrs, err := decodeObject(rawEdge)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		source, err := keyAttr(attrs, "input")
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		target, err := keyAttr(attrs, "output")
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		amount, _ := toFloat(attrs["amount"])
		edge := Edge{
			Source: source,
			Target: target,
			Amount: amount,
			Type:   stringAttr(attrs, "type"),
		}
		for _, k := range []string{"input", "output", "amount", "type"} {
			delete(attrs, k)
		}
		edge.Attributes = attrs
		ds.Edges = append(ds.Edges, edge)
	}
	return ds, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		obj[k] = normalizeJSON(v)
	}
	return obj, nil
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	}
	return v
}

func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return strings.TrimSpace(s)
}

func keyAttr(attrs map[string]any, key string) (Key, error) {
	pair, ok := attrs[key].([]any)
	if !ok || len(pair) != 2 {
		return Key{}, fmt.Errorf("%s must be a [database, code] pair", key)
	}
	db, _ := pair[0].(string)
	code, _ := pair[1].(string)
	if db == "" || code == "" {
		return Key{}, fmt.Errorf("%s must be a [database, code] pair", key)
	}
	return Key{Database: db, Code: code}, nil
}
