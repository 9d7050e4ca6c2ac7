package policy

import (
	"fmt"

	"github.com/fgrzl/graphreco"
)

// NotReachableFrom rejects the start node and every node reachable from it within depth
// hops along edges of the given types (all types when edgeTypes is empty). The reachable
// set is read once, so the policy reflects the graph as it was when it was built.
func NotReachableFrom(db graphreco.GraphDB, nodeID string, edgeTypes []string, depth int) (NodeInclusionPolicy, error) {
	types := make(map[string]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		types[t] = true
	}

	nodes, _, err := graphreco.Traverse(db, nodeID, types, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to build reachability policy: %w", err)
	}

	excluded := make(idSet, len(nodes))
	for _, node := range nodes {
		excluded[node.ID] = struct{}{}
	}
	return excluded, nil
}
