// Package importer reads graphs from JSON, YAML and Graphviz DOT files and loads them into
// a graphreco.GraphDB.
package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgrzl/graphreco"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// BatchSize is the number of nodes or edges written per store call by Load.
const BatchSize = 500

// Document is a graph read from a file.
type Document struct {
	Nodes []graphreco.Node `json:"nodes" yaml:"nodes"`
	Edges []graphreco.Edge `json:"edges" yaml:"edges"`
}

// ParseJSON reads a document of the form {"nodes": [...], "edges": [...]}.
func ParseJSON(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON graph: %w", err)
	}
	doc.assignIDs()
	return &doc, nil
}

// ParseYAML reads a document with top-level nodes and edges sequences.
func ParseYAML(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode YAML graph: %w", err)
	}
	doc.assignIDs()
	return &doc, nil
}

// ParseFile picks a parser from the file extension: .json, .yaml/.yml or .dot/.gv.
func ParseFile(path string) (*Document, error) {
	var parse func(io.Reader) (*Document, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		parse = ParseJSON
	case ".yaml", ".yml":
		parse = ParseYAML
	case ".dot", ".gv":
		parse = ParseDOT
	default:
		return nil, fmt.Errorf("unsupported graph file %q: expected .json, .yaml, .yml, .dot or .gv", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parse(f)
}

// assignIDs gives nodes without an ID a random one.
func (d *Document) assignIDs() {
	for i := range d.Nodes {
		if d.Nodes[i].ID == "" {
			d.Nodes[i].ID = uuid.NewString()
		}
	}
}

// Validate reports every duplicate node, untyped edge and edge with an unknown endpoint.
func (d *Document) Validate() error {
	var result *multierror.Error

	known := make(map[string]bool, len(d.Nodes))
	for _, node := range d.Nodes {
		if known[node.ID] {
			result = multierror.Append(result, fmt.Errorf("duplicate node %q", node.ID))
		}
		known[node.ID] = true
	}

	for i, edge := range d.Edges {
		if edge.Type == "" {
			result = multierror.Append(result, fmt.Errorf("edge %d (%s -> %s) has no type", i, edge.From, edge.To))
		}
		if !known[edge.From] {
			result = multierror.Append(result, fmt.Errorf("edge %d references unknown source node %q", i, edge.From))
		}
		if !known[edge.To] {
			result = multierror.Append(result, fmt.Errorf("edge %d references unknown destination node %q", i, edge.To))
		}
	}

	return result.ErrorOrNil()
}

// Load validates doc and writes its nodes, then its edges, to db.
func Load(db graphreco.GraphDB, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}

	for start := 0; start < len(doc.Nodes); start += BatchSize {
		end := min(start+BatchSize, len(doc.Nodes))
		if err := db.PutNodes(doc.Nodes[start:end]); err != nil {
			return fmt.Errorf("failed to load nodes: %w", err)
		}
	}
	for start := 0; start < len(doc.Edges); start += BatchSize {
		end := min(start+BatchSize, len(doc.Edges))
		if err := db.PutEdges(doc.Edges[start:end]); err != nil {
			return fmt.Errorf("failed to load edges: %w", err)
		}
	}
	return nil
}
