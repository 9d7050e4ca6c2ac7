package graphreco

import "errors"

var (
	// ErrNotFound is returned when a node or edge does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrNoNodes is returned by RandomNode when the graph holds no nodes.
	ErrNoNodes = errors.New("graph has no nodes")
)

// NodeSpace is the universe of nodes a selector draws from.
type NodeSpace interface {
	// RandomNode returns a node drawn uniformly at random, or ErrNoNodes.
	RandomNode() (Node, error)

	// ScanNodes calls fn for every node until fn returns false.
	ScanNodes(fn func(Node) bool) error
}

type GraphDB interface {
	NodeSpace

	PutNode(id string, node Node) error
	PutNodes(nodes []Node) error
	GetNode(id string) (Node, error)
	RemoveNode(id string) error

	PutEdge(fromID, toID, edgeType string, params map[string]string) error
	PutEdges(edges []Edge) error
	RemoveEdge(fromID, toID, edgeType string) error
	RemoveEdges(edges []Edge) error
	OutEdges(nodeID string) ([]Edge, error)

	Close() error
}

// Node structure
type Node struct {
	ID     string            `json:"id" yaml:"id"`
	Labels []string          `json:"labels,omitempty" yaml:"labels,omitempty"`
	Data   map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

// HasLabel reports whether the node carries the given label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge structure
type Edge struct {
	From   string            `json:"from" yaml:"from"`
	To     string            `json:"to" yaml:"to"`
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}
