package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fgrzl/graphreco"
	_ "github.com/mattn/go-sqlite3"
)

type GraphDBSQLite struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func NewGraphDBSQLite(dbPath string) (graphreco.GraphDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not open SQLite database: %w", err)
	}

	// Create the schema if it doesn't exist
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		labels TEXT,
		data TEXT
	);

	CREATE TABLE IF NOT EXISTS edges (
		from_id TEXT,
		to_id TEXT,
		type TEXT,
		params TEXT,
		PRIMARY KEY (from_id, to_id, type)
	);

	CREATE INDEX IF NOT EXISTS edges_to_id ON edges (to_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create tables: %w", err)
	}

	return &GraphDBSQLite{db: db}, nil
}

func putNode(x execer, id string, node graphreco.Node) error {
	labels, err := graphreco.EncodeStrings(node.Labels)
	if err != nil {
		return fmt.Errorf("could not encode labels of node %s: %w", id, err)
	}
	data, err := graphreco.EncodeStrings(node.Data)
	if err != nil {
		return fmt.Errorf("could not encode data of node %s: %w", id, err)
	}

	_, err = x.Exec(`
		INSERT OR REPLACE INTO nodes (id, labels, data)
		VALUES (?, ?, ?);
	`, id, labels, data)
	return err
}

func putEdge(x execer, fromID, toID, edgeType string, params map[string]string) error {
	paramsStr, err := graphreco.EncodeStrings(params)
	if err != nil {
		return fmt.Errorf("could not encode params of edge %s->%s: %w", fromID, toID, err)
	}

	_, err = x.Exec(`
		INSERT OR REPLACE INTO edges (from_id, to_id, type, params)
		VALUES (?, ?, ?, ?);
	`, fromID, toID, edgeType, paramsStr)
	return err
}

func removeEdge(x execer, fromID, toID, edgeType string) error {
	res, err := x.Exec("DELETE FROM edges WHERE from_id = ? AND to_id = ? AND type = ?", fromID, toID, edgeType)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("edge %s-%s (%s): %w", fromID, toID, edgeType, graphreco.ErrNotFound)
	}
	return nil
}

// PutNode inserts or updates a node
func (db *GraphDBSQLite) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	return putNode(db.db, id, node)
}

// PutNodes inserts or updates multiple nodes
func (db *GraphDBSQLite) PutNodes(nodes []graphreco.Node) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, node := range nodes {
		if err := putNode(tx, node.ID, node); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetNode retrieves a node by ID
func (db *GraphDBSQLite) GetNode(id string) (graphreco.Node, error) {
	row := db.db.QueryRow("SELECT id, labels, data FROM nodes WHERE id = ?", id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	return node, err
}

// RemoveNode removes a node and its associated edges
func (db *GraphDBSQLite) RemoveNode(nodeID string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM nodes WHERE id = ?", nodeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", nodeID, graphreco.ErrNotFound)
	}

	// Remove all edges involving the node
	_, err = tx.Exec("DELETE FROM edges WHERE from_id = ? OR to_id = ?", nodeID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to remove edges: %w", err)
	}

	return tx.Commit()
}

// PutEdge inserts or updates an edge
func (db *GraphDBSQLite) PutEdge(fromID, toID, edgeType string, params map[string]string) error {
	return putEdge(db.db, fromID, toID, edgeType, params)
}

// PutEdges inserts or updates multiple edges
func (db *GraphDBSQLite) PutEdges(edges []graphreco.Edge) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, edge := range edges {
		if err := putEdge(tx, edge.From, edge.To, edge.Type, edge.Params); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveEdge removes a specific edge
func (db *GraphDBSQLite) RemoveEdge(fromID, toID, edgeType string) error {
	return removeEdge(db.db, fromID, toID, edgeType)
}

// RemoveEdges removes multiple edges; nothing is removed if any edge is missing
func (db *GraphDBSQLite) RemoveEdges(edges []graphreco.Edge) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, edge := range edges {
		if err := removeEdge(tx, edge.From, edge.To, edge.Type); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// OutEdges returns the edges leaving nodeID
func (db *GraphDBSQLite) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	rows, err := db.db.Query("SELECT from_id, to_id, type, params FROM edges WHERE from_id = ? ORDER BY to_id, type", nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []graphreco.Edge
	for rows.Next() {
		var edge graphreco.Edge
		var params string
		if err := rows.Scan(&edge.From, &edge.To, &edge.Type, &params); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := graphreco.DecodeStrings(params, &edge.Params); err != nil {
			return nil, fmt.Errorf("could not decode params: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return edges, nil
}

// RandomNode draws a node uniformly at random
func (db *GraphDBSQLite) RandomNode() (graphreco.Node, error) {
	row := db.db.QueryRow("SELECT id, labels, data FROM nodes ORDER BY RANDOM() LIMIT 1")
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graphreco.Node{}, graphreco.ErrNoNodes
	}
	return node, err
}

// ScanNodes visits every node in ID order
func (db *GraphDBSQLite) ScanNodes(fn func(graphreco.Node) bool) error {
	rows, err := db.db.Query("SELECT id, labels, data FROM nodes ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return err
		}
		if !fn(node) {
			return nil
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (graphreco.Node, error) {
	var node graphreco.Node
	var labels, data string
	if err := s.Scan(&node.ID, &labels, &data); err != nil {
		return graphreco.Node{}, err
	}
	if err := graphreco.DecodeStrings(labels, &node.Labels); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode labels of node %s: %w", node.ID, err)
	}
	if err := graphreco.DecodeStrings(data, &node.Data); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode data of node %s: %w", node.ID, err)
	}
	return node, nil
}

// Close closes the database connection
func (db *GraphDBSQLite) Close() error {
	return db.db.Close()
}
