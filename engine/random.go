// Package engine recommends graph nodes.
//
// RandomEngine recommends nodes drawn at random from the input's graph. Each draw goes
// through a walk.NodeSelector bound to the engine's inclusion policy, so only compliant
// nodes are recommended. Drawing stops when Limit distinct nodes have been found or the
// attempt budget (10 per requested result by default) runs out; a short result is not an
// error. Drawing the same node twice uses up an attempt without adding a result.
package engine

import (
	"errors"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/metrics"
	"github.com/fgrzl/graphreco/policy"
	"github.com/fgrzl/graphreco/walk"
	"github.com/rs/zerolog"
)

var (
	// ErrNilPolicy is returned when an engine is built without an inclusion policy.
	ErrNilPolicy = errors.New("engine: inclusion policy is required")

	// ErrNoGraph is returned when the input is not bound to a graph.
	ErrNoGraph = errors.New("engine: input has no graph")

	// ErrNilContext is returned when Recommend is called without a context.
	ErrNilContext = errors.New("engine: recommendation context is required")
)

// Input is the entity recommendations are made for, together with the graph it was read
// from.
type Input struct {
	Node  graphreco.Node
	Graph graphreco.NodeSpace
}

// Engine is what a recommendation framework composes.
type Engine interface {
	Name() string
	ParticipationPolicy(ctx Context) ParticipationPolicy
	Recommend(input Input, ctx Context) (Recommendations, error)
}

var _ Engine = (*RandomEngine)(nil)

// SelectorFactory builds the node selector an engine draws with from its policy.
type SelectorFactory func(p policy.NodeInclusionPolicy) walk.NodeSelector

// RandomEngine is immutable once built and safe for concurrent use as long as its
// policy and selector are.
type RandomEngine struct {
	name     string
	selector walk.NodeSelector
	scorer   Scorer
	budget   AttemptBudget
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

type Option func(*options)

type options struct {
	scorer  Scorer
	budget  AttemptBudget
	factory SelectorFactory
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// WithScorer replaces the default score of 1.
func WithScorer(s Scorer) Option {
	return func(o *options) {
		if s != nil {
			o.scorer = s
		}
	}
}

// WithAttemptBudget replaces the default budget of ten attempts per requested result.
func WithAttemptBudget(b AttemptBudget) Option {
	return func(o *options) {
		if b != nil {
			o.budget = b
		}
	}
}

// WithSelectorFactory replaces walk.NewRandomNodeSelector.
func WithSelectorFactory(f SelectorFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func defaultSelector(p policy.NodeInclusionPolicy) walk.NodeSelector {
	return walk.NewRandomNodeSelector(p)
}

// NewRandomEngine binds p to a new node selector. p is required.
func NewRandomEngine(name string, p policy.NodeInclusionPolicy, opts ...Option) (*RandomEngine, error) {
	if p == nil {
		return nil, ErrNilPolicy
	}

	o := options{
		scorer:  ConstantScore(1),
		budget:  LimitMultiple(10),
		factory: defaultSelector,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &RandomEngine{
		name:     name,
		selector: o.factory(p),
		scorer:   o.scorer,
		budget:   o.budget,
		logger:   o.logger.With().Str("engine", name).Logger(),
		metrics:  o.metrics,
	}, nil
}

func (e *RandomEngine) Name() string {
	return e.name
}

// ParticipationPolicy is always IfMoreResultsNeeded: random picks only fill gaps.
func (e *RandomEngine) ParticipationPolicy(Context) ParticipationPolicy {
	return IfMoreResultsNeeded
}

// Recommend draws nodes from input.Graph until ctx.Limit() distinct nodes are found or the
// attempt budget is used up. Selector errors are returned as is.
func (e *RandomEngine) Recommend(input Input, ctx Context) (Recommendations, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if input.Graph == nil {
		return nil, ErrNoGraph
	}

	limit := ctx.Limit()
	budget := e.budget.Attempts(ctx)
	result := make(Recommendations)

	attempts := 0
	for attempts < budget && len(result) < limit {
		attempts++

		node, found, err := e.selector.SelectNode(input.Graph)
		if err != nil {
			e.metrics.ObserveDraw(e.name, metrics.OutcomeError)
			return nil, err
		}
		if !found {
			e.metrics.ObserveDraw(e.name, metrics.OutcomeEmpty)
			continue
		}
		e.metrics.ObserveDraw(e.name, metrics.OutcomeAccepted)

		result[node.ID] = Recommendation{Node: node, Score: e.score(node)}
	}

	exhausted := len(result) < limit
	e.metrics.ObserveRecommendation(e.name, len(result), exhausted)
	e.logger.Debug().
		Str("input", input.Node.ID).
		Int("limit", limit).
		Int("budget", budget).
		Int("attempts", attempts).
		Int("results", len(result)).
		Bool("exhausted", exhausted).
		Msg("random recommendation finished")

	return result, nil
}

func (e *RandomEngine) score(node graphreco.Node) int {
	s := e.scorer.Score(node)
	if s < 0 {
		e.logger.Warn().Str("node", node.ID).Int("score", s).Msg("negative score clamped to zero")
		return 0
	}
	return s
}
