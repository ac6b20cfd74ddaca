package graph

import (
	"fmt"
	"strings"

	"dardanelles/internal/tabular"
)

// Reconstruct turns decoded nodes and edges resources back into a graph.
//
// Every edge row is attached to the node named by its target_id; a row whose
// target is missing fails the whole reconstruction. A source_id that does not
// resolve leaves the exchange's Input nil, since the source may live in a
// dependency database that is not part of this package.
func Reconstruct(nodes, edges *tabular.Table) (Graph, error) {
	byID := make(map[int64]*Node, nodes.Len())
	g := make(Graph, nodes.Len())

	for i, row := range nodes.Rows {
		attrs := Clean(row)
		id, ok := toID(row[colID])
		if !ok {
			return nil, ErrMalformedNode.With(colID, fmt.Sprintf("row %d", i))
		}
		database, _ := attrs[colDatabase].(string)
		code, _ := attrs[colCode].(string)
		if database == "" || code == "" {
			return nil, ErrMalformedNode.With(colCode, fmt.Sprintf("row %d", i))
		}
		delete(attrs, colDatabase)
		delete(attrs, colCode)

		node := &Node{
			Database:   database,
			Code:       code,
			Attributes: attrs,
			Exchanges:  []Exchange{},
		}
		if _, dup := byID[id]; dup {
			return nil, ErrDuplicateNode.With(colID, fmt.Sprintf("%d", id))
		}
		if _, dup := g[node.Key()]; dup {
			return nil, ErrDuplicateNode.With(colCode, node.Key().String())
		}
		byID[id] = node
		g[node.Key()] = node
	}

	for i, row := range edges.Rows {
		targetID, ok := toID(row[colTargetID])
		if !ok {
			return nil, ErrDanglingEdgeTarget.With(colTargetID, fmt.Sprintf("row %d", i))
		}
		target, ok := byID[targetID]
		if !ok {
			return nil, ErrDanglingEdgeTarget.With(colTargetID, fmt.Sprintf("%d", targetID))
		}
		target.Exchanges = append(target.Exchanges, buildExchange(row, byID))
	}
	return g, nil
}

func buildExchange(row tabular.Row, byID map[int64]*Node) Exchange {
	ex := Exchange{Attributes: make(map[string]any, len(row))}
	if sourceID, ok := toID(row[colSourceID]); ok {
		if source, ok := byID[sourceID]; ok {
			key := source.Key()
			ex.Input = &key
		}
	}
	for name, value := range row {
		switch {
		case name == colTargetID:
			continue
		case name == colEdgeAmount:
			ex.Amount, _ = toFloat(value)
			continue
		case name == colEdgeType:
			ex.Type, _ = value.(string)
			continue
		}
		if value == nil || isNaN(value) {
			continue
		}
		switch {
		case strings.HasPrefix(name, colSourcePrefix):
			ex.Attributes[strings.TrimPrefix(name, colSourcePrefix)] = value
		case strings.HasPrefix(name, colEdgePrefix):
			ex.Attributes[strings.TrimPrefix(name, colEdgePrefix)] = value
		default:
			ex.Attributes[name] = value
		}
	}
	return ex
}
