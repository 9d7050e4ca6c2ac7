package engine

import (
	"strconv"

	"github.com/fgrzl/graphreco"
)

// Scorer assigns a score to a recommended node. It must be a pure function of the node.
type Scorer interface {
	Score(node graphreco.Node) int
}

// ScorerFunc adapts an ordinary function to Scorer.
type ScorerFunc func(node graphreco.Node) int

func (f ScorerFunc) Score(node graphreco.Node) int {
	return f(node)
}

// ConstantScore scores every node n.
func ConstantScore(n int) Scorer {
	return ScorerFunc(func(graphreco.Node) int { return n })
}

// PropertyScore reads the score from node.Data[key], using fallback when the value is
// missing, not an integer, or negative.
func PropertyScore(key string, fallback int) Scorer {
	return ScorerFunc(func(node graphreco.Node) int {
		v, err := strconv.Atoi(node.Data[key])
		if err != nil || v < 0 {
			return fallback
		}
		return v
	})
}

// AttemptBudget bounds the number of node selections made by one Recommend call.
type AttemptBudget interface {
	Attempts(ctx Context) int
}

// AttemptBudgetFunc adapts an ordinary function to AttemptBudget.
type AttemptBudgetFunc func(ctx Context) int

func (f AttemptBudgetFunc) Attempts(ctx Context) int {
	return f(ctx)
}

// LimitMultiple allows n attempts per requested recommendation.
func LimitMultiple(n int) AttemptBudget {
	return AttemptBudgetFunc(func(ctx Context) int { return ctx.Limit() * n })
}

// FixedAttempts allows n attempts whatever the limit.
func FixedAttempts(n int) AttemptBudget {
	return AttemptBudgetFunc(func(Context) int { return n })
}
