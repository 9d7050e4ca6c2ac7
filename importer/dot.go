package importer

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/fgrzl/graphreco"
)

// DefaultEdgeType is given to DOT edges without a type attribute.
const DefaultEdgeType = "related"

// ParseDOT reads a Graphviz graph. A node's "labels" attribute is a comma separated label
// list and its other attributes become node data. An edge's "type" attribute is its type
// and its other attributes become edge params. Undirected edges are loaded in both
// directions.
func ParseDOT(r io.Reader) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	ast, err := gographviz.ParseString(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}

	b := newDotBuilder()
	if err := gographviz.Analyse(ast, b); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}
	return b.document(), nil
}

// dotBuilder receives the analysed graph. gographviz.Graph only accepts Graphviz
// attributes, so nodes and edges are collected here instead.
type dotBuilder struct {
	name  string
	order []string
	nodes map[string]*graphreco.Node
	edges []graphreco.Edge
}

var _ gographviz.Interface = (*dotBuilder)(nil)

func newDotBuilder() *dotBuilder {
	return &dotBuilder{nodes: make(map[string]*graphreco.Node)}
}

func (b *dotBuilder) document() *Document {
	doc := &Document{
		Nodes: make([]graphreco.Node, 0, len(b.order)),
		Edges: b.edges,
	}
	for _, id := range b.order {
		doc.Nodes = append(doc.Nodes, *b.nodes[id])
	}
	return doc
}

func (b *dotBuilder) node(id string) *graphreco.Node {
	id = unquote(id)
	n, ok := b.nodes[id]
	if !ok {
		n = &graphreco.Node{ID: id}
		b.nodes[id] = n
		b.order = append(b.order, id)
	}
	return n
}

func (b *dotBuilder) SetStrict(bool) error { return nil }
func (b *dotBuilder) SetDir(bool) error    { return nil }

func (b *dotBuilder) SetName(name string) error {
	b.name = unquote(name)
	return nil
}

func (b *dotBuilder) AddNode(_ string, name string, attrs map[string]string) error {
	n := b.node(name)
	for key, value := range attrs {
		key, value = unquote(key), unquote(value)
		if key == "labels" {
			for _, label := range strings.Split(value, ",") {
				label = strings.TrimSpace(label)
				if label != "" && !slices.Contains(n.Labels, label) {
					n.Labels = append(n.Labels, label)
				}
			}
			continue
		}
		if n.Data == nil {
			n.Data = make(map[string]string)
		}
		n.Data[key] = value
	}
	return nil
}

func (b *dotBuilder) AddEdge(src, dst string, directed bool, attrs map[string]string) error {
	return b.AddPortEdge(src, "", dst, "", directed, attrs)
}

func (b *dotBuilder) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	from, to := b.node(src).ID, b.node(dst).ID

	edgeType := DefaultEdgeType
	var params map[string]string
	for key, value := range attrs {
		key, value = unquote(key), unquote(value)
		if key == "type" {
			edgeType = value
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[key] = value
	}

	b.edges = append(b.edges, graphreco.Edge{From: from, To: to, Type: edgeType, Params: params})
	if !directed && from != to {
		b.edges = append(b.edges, graphreco.Edge{From: to, To: from, Type: edgeType, Params: params})
	}
	return nil
}

// Graph and subgraph attributes carry no graph data.
func (b *dotBuilder) AddAttr(string, string, string) error                { return nil }
func (b *dotBuilder) AddSubGraph(string, string, map[string]string) error { return nil }

func (b *dotBuilder) String() string {
	return fmt.Sprintf("graph %s (%d nodes, %d edges)", b.name, len(b.order), len(b.edges))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
