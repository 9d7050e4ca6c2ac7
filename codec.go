package graphreco

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeNode serializes a node for key/value stores.
func EncodeNode(node Node) ([]byte, error) {
	data, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("could not encode node %s: %w", node.ID, err)
	}
	return data, nil
}

// DecodeNode is the inverse of EncodeNode.
func DecodeNode(data []byte) (Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return Node{}, fmt.Errorf("could not decode node: %w", err)
	}
	return node, nil
}

// EncodeEdge serializes an edge for key/value stores.
func EncodeEdge(edge Edge) ([]byte, error) {
	data, err := json.Marshal(edge)
	if err != nil {
		return nil, fmt.Errorf("could not encode edge %s->%s: %w", edge.From, edge.To, err)
	}
	return data, nil
}

// DecodeEdge is the inverse of EncodeEdge.
func DecodeEdge(data []byte) (Edge, error) {
	var edge Edge
	if err := json.Unmarshal(data, &edge); err != nil {
		return Edge{}, fmt.Errorf("could not decode edge: %w", err)
	}
	return edge, nil
}

// EncodeStrings serializes a label list or parameter map into a single column value.
func EncodeStrings(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeStrings is the inverse of EncodeStrings. Empty input leaves v untouched.
func DecodeStrings(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
