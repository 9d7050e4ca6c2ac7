package pebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/fgrzl/graphreco"
)

var (
	nodePrefix = []byte("node:")
	edgePrefix = []byte("edge:")
)

type GraphDBPebble struct {
	db *pebble.DB
}

func NewGraphDBPebble(dbPath string) (graphreco.GraphDB, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("could not open Pebble database: %w", err)
	}
	return &GraphDBPebble{db: db}, nil
}

// PutNode inserts or updates a node in the graph
func (db *GraphDBPebble) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	value, err := graphreco.EncodeNode(node)
	if err != nil {
		return err
	}
	return db.db.Set(getNodeKey(id), value, pebble.Sync)
}

// PutNodes inserts or updates multiple nodes in the graph
func (db *GraphDBPebble) PutNodes(nodes []graphreco.Node) error {
	batch := db.db.NewBatch()
	defer batch.Close()

	for _, node := range nodes {
		value, err := graphreco.EncodeNode(node)
		if err != nil {
			return err
		}
		if err := batch.Set(getNodeKey(node.ID), value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// GetNode retrieves a node by ID
func (db *GraphDBPebble) GetNode(id string) (graphreco.Node, error) {
	data, closer, err := db.db.Get(getNodeKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to retrieve node data for %s: %w", id, err)
	}
	defer closer.Close()

	return graphreco.DecodeNode(data)
}

// RemoveNode removes a node and every edge that starts or ends at it
func (db *GraphDBPebble) RemoveNode(id string) error {
	if _, err := db.GetNode(id); err != nil {
		return err
	}

	batch := db.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(getNodeKey(id), nil); err != nil {
		return err
	}

	err := db.scanEdges(edgePrefix, func(key []byte, edge graphreco.Edge) error {
		if edge.From == id || edge.To == id {
			return batch.Delete(key, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// PutEdge inserts or updates an edge in the graph
func (db *GraphDBPebble) PutEdge(fromID, toID, edgeType string, params map[string]string) error {
	value, err := graphreco.EncodeEdge(graphreco.Edge{From: fromID, To: toID, Type: edgeType, Params: params})
	if err != nil {
		return err
	}
	if err := db.db.Set(getEdgeKey(fromID, toID, edgeType), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to put edge from %s to %s: %w", fromID, toID, err)
	}
	return nil
}

// PutEdges inserts or updates multiple edges in the graph
func (db *GraphDBPebble) PutEdges(edges []graphreco.Edge) error {
	batch := db.db.NewBatch()
	defer batch.Close()

	for _, edge := range edges {
		value, err := graphreco.EncodeEdge(edge)
		if err != nil {
			return err
		}
		if err := batch.Set(getEdgeKey(edge.From, edge.To, edge.Type), value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// RemoveEdge removes a specific edge
func (db *GraphDBPebble) RemoveEdge(fromID, toID, edgeType string) error {
	return db.RemoveEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType}})
}

// RemoveEdges removes multiple edges; nothing is removed if any edge is missing
func (db *GraphDBPebble) RemoveEdges(edges []graphreco.Edge) error {
	batch := db.db.NewBatch()
	defer batch.Close()

	for _, edge := range edges {
		edgeKey := getEdgeKey(edge.From, edge.To, edge.Type)
		_, closer, err := db.db.Get(edgeKey)
		if errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("edge %s-%s (%s): %w", edge.From, edge.To, edge.Type, graphreco.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to retrieve edge %s-%s: %w", edge.From, edge.To, err)
		}
		closer.Close()

		if err := batch.Delete(edgeKey, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// OutEdges returns the edges leaving nodeID
func (db *GraphDBPebble) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	var edges []graphreco.Edge
	err := db.scanEdges(getEdgePrefix(nodeID), func(_ []byte, edge graphreco.Edge) error {
		// IDs may contain ':' so the prefix can over-match
		if edge.From == nodeID {
			edges = append(edges, edge)
		}
		return nil
	})
	return edges, err
}

// RandomNode draws a node uniformly at random
func (db *GraphDBPebble) RandomNode() (graphreco.Node, error) {
	return graphreco.SampleScan(db)
}

// ScanNodes visits every node in key order
func (db *GraphDBPebble) ScanNodes(fn func(graphreco.Node) bool) error {
	iter, err := db.db.NewIter(&pebble.IterOptions{
		LowerBound: nodePrefix,
		UpperBound: upperBound(nodePrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		node, err := graphreco.DecodeNode(iter.Value())
		if err != nil {
			return err
		}
		if !fn(node) {
			break
		}
	}
	return iter.Error()
}

func (db *GraphDBPebble) scanEdges(prefix []byte, fn func(key []byte, edge graphreco.Edge) error) error {
	iter, err := db.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		edge, err := graphreco.DecodeEdge(iter.Value())
		if err != nil {
			return err
		}
		key := append([]byte(nil), iter.Key()...)
		if err := fn(key, edge); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (db *GraphDBPebble) Close() error {
	if db.db == nil {
		return nil // Already closed, no action needed
	}

	err := db.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close the database: %w", err)
	}

	db.db = nil
	return nil
}

func getNodeKey(nodeID string) []byte {
	return []byte("node:" + nodeID)
}

func getEdgePrefix(fromID string) []byte {
	return []byte("edge:" + fromID + ":")
}

func getEdgeKey(fromID, toID, edgeType string) []byte {
	return []byte("edge:" + fromID + ":" + toID + ":" + edgeType)
}

// upperBound returns the smallest key greater than every key with the given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
