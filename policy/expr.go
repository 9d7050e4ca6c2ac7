package policy

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fgrzl/graphreco"
	lru "github.com/hashicorp/golang-lru"
)

// ExprPolicy accepts the nodes for which a boolean expression holds. The expression sees
// three variables: id (string), labels ([]string) and data (map[string]string), e.g.
//
//	"person" in labels && data["country"] == "NZ"
type ExprPolicy struct {
	source  string
	program *vm.Program
}

func exprEnv(node graphreco.Node) map[string]any {
	labels := node.Labels
	if labels == nil {
		labels = []string{}
	}
	data := node.Data
	if data == nil {
		data = map[string]string{}
	}
	return map[string]any{
		"id":     node.ID,
		"labels": labels,
		"data":   data,
	}
}

// NewExprPolicy compiles source. Syntax and type errors are reported here rather than
// when the policy is first used.
func NewExprPolicy(source string) (*ExprPolicy, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("policy expression is empty")
	}

	program, err := expr.Compile(source, expr.Env(exprEnv(graphreco.Node{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid policy expression %q: %w", source, err)
	}
	return &ExprPolicy{source: source, program: program}, nil
}

// Include evaluates the expression against node. A runtime error (for example a failed
// conversion of a data value) excludes the node.
func (p *ExprPolicy) Include(node graphreco.Node) bool {
	out, err := expr.Run(p.program, exprEnv(node))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (p *ExprPolicy) String() string {
	return p.source
}

// Compiler compiles expression policies and keeps the most recently used ones.
type Compiler struct {
	cache *lru.Cache
}

func NewCompiler(size int) (*Compiler, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("could not create policy cache: %w", err)
	}
	return &Compiler{cache: cache}, nil
}

// Compile returns the cached policy for source, compiling it on a miss.
func (c *Compiler) Compile(source string) (*ExprPolicy, error) {
	key := strings.TrimSpace(source)
	if v, ok := c.cache.Get(key); ok {
		return v.(*ExprPolicy), nil
	}

	p, err := NewExprPolicy(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, p)
	return p, nil
}

// Len reports the number of cached policies.
func (c *Compiler) Len() int {
	return c.cache.Len()
}
