package graphreco

import (
	"errors"
	"fmt"
)

type frame struct {
	nodeID string
	depth  int
}

// Traverse walks outgoing edges from nodeID up to maxDepth hops and returns the nodes and
// edges it reached, starting node first. An empty edgeTypes set follows every edge type.
// Edges pointing at nodes that no longer exist are returned without their target.
func Traverse(db GraphDB, nodeID string, edgeTypes map[string]bool, maxDepth int) ([]Node, []Edge, error) {
	start, err := db.GetNode(nodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to traverse from %s: %w", nodeID, err)
	}

	visitedNodes := map[string]bool{nodeID: true}
	visitedEdges := make(map[string]bool)
	resultNodes := []Node{start}
	var resultEdges []Edge

	// Breadth first: each node is expanded at its shortest distance from the start.
	queue := []frame{{nodeID: nodeID, depth: maxDepth}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth <= 0 {
			continue
		}

		edges, err := db.OutEdges(current.nodeID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read edges of %s: %w", current.nodeID, err)
		}

		for _, edge := range edges {
			if len(edgeTypes) > 0 && !edgeTypes[edge.Type] {
				continue
			}

			key := edge.From + "\x00" + edge.To + "\x00" + edge.Type
			if visitedEdges[key] {
				continue
			}
			visitedEdges[key] = true
			resultEdges = append(resultEdges, edge)

			if visitedNodes[edge.To] {
				continue
			}
			visitedNodes[edge.To] = true

			to, err := db.GetNode(edge.To)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, fmt.Errorf("failed to retrieve node %s: %w", edge.To, err)
			}
			resultNodes = append(resultNodes, to)
			queue = append(queue, frame{nodeID: edge.To, depth: current.depth - 1})
		}
	}

	return resultNodes, resultEdges, nil
}
