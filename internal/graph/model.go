// Package graph models a life-cycle-inventory dataset as process nodes that
// own their exchanges, and converts between that nested form and the flat
// nodes/edges tables stored in a datapackage.
//
// Ownership runs one way only: a Node owns its Exchanges. The source of an
// exchange is held as a Key and resolved through the Graph map, never as a
// pointer to another Node.
package graph

import (
	"fmt"
	"sort"

	"dardanelles/internal/apperr"
)

var (
	ErrDanglingEdgeTarget = apperr.New(apperr.KindStructuralFormat, "dangling_edge_target", "edge target is not a node of this package")
	ErrDuplicateNode      = apperr.New(apperr.KindStructuralFormat, "duplicate_node", "node key appears more than once")
	ErrMalformedNode      = apperr.New(apperr.KindStructuralFormat, "malformed_node", "node row is missing an identity column")
)

// Key identifies a node across databases.
type Key struct {
	Database string `json:"database"`
	Code     string `json:"code"`
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s)", k.Database, k.Code)
}

// Node is a process or activity record.
type Node struct {
	Database   string
	Code       string
	Attributes map[string]any
	Exchanges  []Exchange
}

// Key returns the node's identity.
func (n *Node) Key() Key {
	return Key{Database: n.Database, Code: n.Code}
}

// Exchange is an edge owned by its target node. Input is nil when the source
// could not be resolved inside the package.
type Exchange struct {
	Input      *Key
	Amount     float64
	Type       string
	Attributes map[string]any
}

// Edge is an exchange as a provider reports it, before it has been attached
// to its target.
type Edge struct {
	Source     Key
	Target     Key
	Amount     float64
	Type       string
	Attributes map[string]any
}

// Graph is the reconstructed dataset keyed by node identity.
type Graph map[Key]*Node

// Keys returns the node keys sorted by database, then code.
func (g Graph) Keys() []Key {
	keys := make([]Key, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Database != keys[j].Database {
			return keys[i].Database < keys[j].Database
		}
		return keys[i].Code < keys[j].Code
	})
	return keys
}

// ExchangeCount returns the total number of exchanges across all nodes.
func (g Graph) ExchangeCount() int {
	n := 0
	for _, node := range g {
		n += len(node.Exchanges)
	}
	return n
}
