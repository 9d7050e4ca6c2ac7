package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fgrzl/graphreco"
)

var (
	nodePrefix = []byte("node:")
	edgePrefix = []byte("edge:")
)

type GraphDBBadger struct {
	db *badger.DB
}

// NewGraphDBBadger opens (or creates) a Badger database in dbPath.
func NewGraphDBBadger(dbPath string) (graphreco.GraphDB, error) {
	return open(badger.DefaultOptions(dbPath).WithLogger(nil))
}

// NewGraphDBBadgerInMemory opens a Badger database that lives only in memory.
func NewGraphDBBadgerInMemory() (graphreco.GraphDB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (graphreco.GraphDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open Badger database: %w", err)
	}
	return &GraphDBBadger{db: db}, nil
}

func (db *GraphDBBadger) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	value, err := graphreco.EncodeNode(node)
	if err != nil {
		return err
	}
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(getNodeKey(id), value)
	})
}

func (db *GraphDBBadger) PutNodes(nodes []graphreco.Node) error {
	wb := db.db.NewWriteBatch()
	defer wb.Cancel()

	for _, node := range nodes {
		value, err := graphreco.EncodeNode(node)
		if err != nil {
			return err
		}
		if err := wb.Set(getNodeKey(node.ID), value); err != nil {
			return fmt.Errorf("failed to put node %s: %w", node.ID, err)
		}
	}
	return wb.Flush()
}

func (db *GraphDBBadger) GetNode(id string) (graphreco.Node, error) {
	var node graphreco.Node
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(getNodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			node, err = graphreco.DecodeNode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to retrieve node %s: %w", id, err)
	}
	return node, nil
}

// RemoveNode removes a node and every edge that starts or ends at it.
func (db *GraphDBBadger) RemoveNode(id string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(getNodeKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
			}
			return err
		}
		if err := txn.Delete(getNodeKey(id)); err != nil {
			return err
		}

		var stale [][]byte
		err := scanEdges(txn, edgePrefix, func(key []byte, edge graphreco.Edge) error {
			if edge.From == id || edge.To == id {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *GraphDBBadger) PutEdge(fromID, toID, edgeType string, params map[string]string) error {
	return db.PutEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType, Params: params}})
}

func (db *GraphDBBadger) PutEdges(edges []graphreco.Edge) error {
	return db.db.Update(func(txn *badger.Txn) error {
		for _, edge := range edges {
			value, err := graphreco.EncodeEdge(edge)
			if err != nil {
				return err
			}
			if err := txn.Set(getEdgeKey(edge.From, edge.To, edge.Type), value); err != nil {
				return fmt.Errorf("failed to put edge from %s to %s: %w", edge.From, edge.To, err)
			}
		}
		return nil
	})
}

func (db *GraphDBBadger) RemoveEdge(fromID, toID, edgeType string) error {
	return db.RemoveEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType}})
}

// RemoveEdges removes multiple edges; nothing is removed if any edge is missing.
func (db *GraphDBBadger) RemoveEdges(edges []graphreco.Edge) error {
	return db.db.Update(func(txn *badger.Txn) error {
		for _, edge := range edges {
			key := getEdgeKey(edge.From, edge.To, edge.Type)
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("edge %s-%s (%s): %w", edge.From, edge.To, edge.Type, graphreco.ErrNotFound)
				}
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *GraphDBBadger) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	var edges []graphreco.Edge
	err := db.db.View(func(txn *badger.Txn) error {
		return scanEdges(txn, getEdgePrefix(nodeID), func(_ []byte, edge graphreco.Edge) error {
			if edge.From == nodeID {
				edges = append(edges, edge)
			}
			return nil
		})
	})
	return edges, err
}

func (db *GraphDBBadger) RandomNode() (graphreco.Node, error) {
	return graphreco.SampleScan(db)
}

func (db *GraphDBBadger) ScanNodes(fn func(graphreco.Node) bool) error {
	return db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = nodePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(nodePrefix); it.ValidForPrefix(nodePrefix); it.Next() {
			var node graphreco.Node
			err := it.Item().Value(func(val []byte) error {
				var err error
				node, err = graphreco.DecodeNode(val)
				return err
			})
			if err != nil {
				return err
			}
			if !fn(node) {
				return nil
			}
		}
		return nil
	})
}

func scanEdges(txn *badger.Txn, prefix []byte, fn func(key []byte, edge graphreco.Edge) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var edge graphreco.Edge
		err := item.Value(func(val []byte) error {
			var err error
			edge, err = graphreco.DecodeEdge(val)
			return err
		})
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), edge); err != nil {
			return err
		}
	}
	return nil
}

func (db *GraphDBBadger) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	if err != nil {
		return fmt.Errorf("failed to close the database: %w", err)
	}
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
