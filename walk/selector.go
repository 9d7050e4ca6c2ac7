// Package walk selects nodes from a graph's node space.
package walk

import (
	"errors"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/policy"
)

// DefaultMaxDraws is how many uniform draws RandomNodeSelector makes before it falls back
// to scanning the whole node space.
const DefaultMaxDraws = 100

// NodeSelector picks one node from a node space.
type NodeSelector interface {
	// SelectNode returns a node and true, or false when no suitable node exists.
	// Errors come from the underlying store.
	SelectNode(space graphreco.NodeSpace) (graphreco.Node, bool, error)
}

// SelectorFunc adapts an ordinary function to NodeSelector.
type SelectorFunc func(space graphreco.NodeSpace) (graphreco.Node, bool, error)

func (f SelectorFunc) SelectNode(space graphreco.NodeSpace) (graphreco.Node, bool, error) {
	return f(space)
}

// RandomNodeSelector draws nodes uniformly at random until one complies with its policy.
// When MaxDraws draws all miss it samples uniformly among the compliant nodes of a full
// scan, so a node is found whenever one exists.
type RandomNodeSelector struct {
	policy   policy.NodeInclusionPolicy
	maxDraws int
}

type Option func(*RandomNodeSelector)

// WithMaxDraws sets the number of random draws made before scanning. Zero scans at once.
func WithMaxDraws(n int) Option {
	return func(s *RandomNodeSelector) {
		s.maxDraws = max(n, 0)
	}
}

func NewRandomNodeSelector(p policy.NodeInclusionPolicy, opts ...Option) *RandomNodeSelector {
	s := &RandomNodeSelector{policy: p, maxDraws: DefaultMaxDraws}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RandomNodeSelector) SelectNode(space graphreco.NodeSpace) (graphreco.Node, bool, error) {
	for i := 0; i < s.maxDraws; i++ {
		node, err := space.RandomNode()
		if errors.Is(err, graphreco.ErrNoNodes) {
			return graphreco.Node{}, false, nil
		}
		if err != nil {
			return graphreco.Node{}, false, err
		}
		if s.policy.Include(node) {
			return node, true, nil
		}
	}

	node, err := graphreco.SampleScanFunc(space, s.policy.Include)
	if errors.Is(err, graphreco.ErrNoNodes) {
		return graphreco.Node{}, false, nil
	}
	if err != nil {
		return graphreco.Node{}, false, err
	}
	return node, true, nil
}
