// Package policy decides which graph nodes may be recommended.
//
// A NodeInclusionPolicy is a stateless predicate. Implementations must be deterministic
// for a fixed graph snapshot and safe for concurrent use, since a single policy is shared
// by every request an engine serves.
package policy

import "github.com/fgrzl/graphreco"

// NodeInclusionPolicy decides whether a node is an eligible recommendation.
type NodeInclusionPolicy interface {
	Include(node graphreco.Node) bool
}

// Func adapts an ordinary function to NodeInclusionPolicy.
type Func func(node graphreco.Node) bool

func (f Func) Include(node graphreco.Node) bool {
	return f(node)
}

type constant bool

func (c constant) Include(graphreco.Node) bool {
	return bool(c)
}

var (
	// IncludeAll accepts every node.
	IncludeAll NodeInclusionPolicy = constant(true)

	// IncludeNone rejects every node.
	IncludeNone NodeInclusionPolicy = constant(false)
)

// HasLabel accepts nodes carrying at least one of the given labels.
func HasLabel(labels ...string) NodeInclusionPolicy {
	return Func(func(node graphreco.Node) bool {
		for _, label := range labels {
			if node.HasLabel(label) {
				return true
			}
		}
		return false
	})
}

// ExcludeIDs rejects the nodes with the given IDs.
func ExcludeIDs(ids ...string) NodeInclusionPolicy {
	excluded := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	return idSet(excluded)
}

type idSet map[string]struct{}

func (s idSet) Include(node graphreco.Node) bool {
	_, found := s[node.ID]
	return !found
}

// All accepts a node only if every policy does. All() accepts everything.
func All(policies ...NodeInclusionPolicy) NodeInclusionPolicy {
	return Func(func(node graphreco.Node) bool {
		for _, p := range policies {
			if !p.Include(node) {
				return false
			}
		}
		return true
	})
}

// Any accepts a node if at least one policy does. Any() rejects everything.
func Any(policies ...NodeInclusionPolicy) NodeInclusionPolicy {
	return Func(func(node graphreco.Node) bool {
		for _, p := range policies {
			if p.Include(node) {
				return true
			}
		}
		return false
	})
}

// Not inverts a policy.
func Not(p NodeInclusionPolicy) NodeInclusionPolicy {
	return Func(func(node graphreco.Node) bool {
		return !p.Include(node)
	})
}
