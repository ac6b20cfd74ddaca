package graph

import (
	"fmt"
	"sort"

	"dardanelles/internal/tabular"
)

// UncertaintyFields are the edge columns appended when uncertainty export is
// requested.
var UncertaintyFields = []string{
	"uncertainty_type",
	"loc",
	"scale",
	"shape",
	"minimum",
	"maximum",
	"negative",
}

const (
	colID             = "id"
	colDatabase       = "database"
	colCode           = "code"
	colTargetID       = "target_id"
	colSourcePrefix   = "source_"
	colSourceID       = "source_id"
	colSourceDatabase = "source_database"
	colSourceCode     = "source_code"
	colEdgePrefix     = "edge_"
	colEdgeAmount     = "edge_amount"
	colEdgeType       = "edge_type"
)

// FlattenNodes builds the nodes resource. Ids are assigned 1..n in the order
// nodes are given; the returned index maps each node key to its id.
func FlattenNodes(nodes []Node) (*tabular.Table, map[Key]int64, error) {
	columns := []string{colID, colDatabase, colCode}
	known := map[string]bool{colID: true, colDatabase: true, colCode: true}
	index := make(map[Key]int64, len(nodes))
	rows := make([]tabular.Row, 0, len(nodes))

	for i := range nodes {
		node := &nodes[i]
		key := node.Key()
		if key.Database == "" || key.Code == "" {
			return nil, nil, ErrMalformedNode.With("node", fmt.Sprintf("%d", i))
		}
		if _, dup := index[key]; dup {
			return nil, nil, ErrDuplicateNode.With("node", key.String())
		}
		id := int64(i + 1)
		index[key] = id

		row := tabular.Row{colID: id, colDatabase: node.Database, colCode: node.Code}
		for _, name := range sortedKeys(node.Attributes) {
			if name == colID || name == colDatabase || name == colCode {
				continue
			}
			if !known[name] {
				known[name] = true
				columns = append(columns, name)
			}
			row[name] = node.Attributes[name]
		}
		rows = append(rows, row)
	}

	table, err := tabular.Build(columns, rows, colID)
	if err != nil {
		return nil, nil, fmt.Errorf("nodes: %w", err)
	}
	return table, index, nil
}

// FlattenEdges builds the edges resource. Each row names its target and
// source by package-local id; a source outside the package keeps its
// database and code but has no id.
func FlattenEdges(edges []Edge, index map[Key]int64, addUncertainty bool) (*tabular.Table, error) {
	columns := []string{colTargetID, colSourceID, colSourceDatabase, colSourceCode, colEdgeAmount, colEdgeType}
	known := make(map[string]bool)
	for _, c := range columns {
		known[c] = true
	}
	uncertain := make(map[string]bool, len(UncertaintyFields))
	for _, f := range UncertaintyFields {
		uncertain[f] = true
	}

	rows := make([]tabular.Row, 0, len(edges))
	for i := range edges {
		edge := &edges[i]
		targetID, ok := index[edge.Target]
		if !ok {
			return nil, ErrDanglingEdgeTarget.With(colTargetID, edge.Target.String())
		}
		row := tabular.Row{
			colTargetID:       targetID,
			colSourceDatabase: edge.Source.Database,
			colSourceCode:     edge.Source.Code,
			colEdgeAmount:     edge.Amount,
			colEdgeType:       edge.Type,
		}
		if sourceID, ok := index[edge.Source]; ok {
			row[colSourceID] = sourceID
		} else {
			row[colSourceID] = nil
		}
		for _, name := range sortedKeys(edge.Attributes) {
			if uncertain[name] {
				continue
			}
			col := colEdgePrefix + name
			if col == colEdgeAmount || col == colEdgeType {
				continue
			}
			if !known[col] {
				known[col] = true
				columns = append(columns, col)
			}
			row[col] = edge.Attributes[name]
		}
		if addUncertainty {
			for _, name := range UncertaintyFields {
				row[name] = edge.Attributes[name]
			}
		}
		rows = append(rows, row)
	}
	if addUncertainty {
		columns = append(columns, UncertaintyFields...)
	}

	table, err := tabular.Build(columns, rows, "")
	if err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}
	return table, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
