package graphreco

import "math/rand"

// SampleScan draws one node uniformly from space by reservoir sampling over ScanNodes.
// It is the RandomNode implementation for stores without a native random read.
func SampleScan(space NodeSpace) (Node, error) {
	return SampleScanFunc(space, func(Node) bool { return true })
}

// SampleScanFunc draws one node uniformly from the nodes of space accepted by keep.
// It returns ErrNoNodes when keep accepts nothing.
func SampleScanFunc(space NodeSpace, keep func(Node) bool) (Node, error) {
	var (
		chosen Node
		seen   int
	)
	err := space.ScanNodes(func(node Node) bool {
		if !keep(node) {
			return true
		}
		seen++
		if rand.Intn(seen) == 0 {
			chosen = node
		}
		return true
	})
	if err != nil {
		return Node{}, err
	}
	if seen == 0 {
		return Node{}, ErrNoNodes
	}
	return chosen, nil
}
