package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/engine"
	"github.com/fgrzl/graphreco/internal/config"
	"github.com/fgrzl/graphreco/internal/logging"
	"github.com/fgrzl/graphreco/metrics"
	"github.com/fgrzl/graphreco/policy"
	"github.com/fgrzl/graphreco/walk"
)

var recommendFlags struct {
	limit            int
	attempts         int
	policy           string
	policyKey        string
	labels           []string
	scoreKey         string
	excludeConnected int
	edgeTypes        []string
	concurrency      int
	metricsOut       string
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <id>...",
	Short: "Recommend random nodes for each input node",
	Long: "Recommend draws nodes at random for every input node and prints one JSON line per\n" +
		"input. Inputs are served concurrently by the same engine.",
	Args: cobra.MinimumNArgs(1),
	RunE: runRecommend,
}

func init() {
	f := recommendCmd.Flags()
	f.IntVar(&recommendFlags.limit, "limit", -1, "Recommendations per input (default from config)")
	f.IntVar(&recommendFlags.attempts, "attempts", 0, "Fixed attempt budget per input (default limit x engine.attempts_per_result)")
	f.StringVar(&recommendFlags.policy, "policy", "", `Expression nodes must satisfy, e.g. '"person" in labels'`)
	f.StringVar(&recommendFlags.policyKey, "policy-key", "", "Input node data field holding an extra expression for that input")
	f.StringSliceVar(&recommendFlags.labels, "label", nil, "Only recommend nodes with one of these labels")
	f.StringVar(&recommendFlags.scoreKey, "score-key", "", "Node data field holding the score")
	f.IntVar(&recommendFlags.excludeConnected, "exclude-connected", -1, "Exclude the input and nodes within this many hops of it")
	f.StringSliceVar(&recommendFlags.edgeTypes, "edge-type", nil, "Edge types followed by --exclude-connected (default all)")
	f.IntVar(&recommendFlags.concurrency, "concurrency", 4, "Inputs served at once")
	f.StringVar(&recommendFlags.metricsOut, "metrics-out", "", "Write engine metrics to this file in Prometheus text format")
}

// recommendOptions is the engine setup resolved from config and flags.
type recommendOptions struct {
	engine           config.EngineConfig
	attempts         int
	excludeConnected int
	edgeTypes        []string
	concurrency      int
	compiler         *policy.Compiler
}

// recommendResult is printed once per input.
type recommendResult struct {
	Input           string                  `json:"input"`
	Recommendations []engine.Recommendation `json:"recommendations"`
}

func resolveRecommendOptions(cmd *cobra.Command) (recommendOptions, error) {
	opts := recommendOptions{
		engine:           cfg.Engine,
		attempts:         recommendFlags.attempts,
		excludeConnected: recommendFlags.excludeConnected,
		edgeTypes:        recommendFlags.edgeTypes,
		concurrency:      max(recommendFlags.concurrency, 1),
	}
	f := cmd.Flags()
	if f.Changed("limit") {
		opts.engine.Limit = recommendFlags.limit
	}
	if f.Changed("policy") {
		opts.engine.Policy = recommendFlags.policy
	}
	if f.Changed("policy-key") {
		opts.engine.PolicyKey = recommendFlags.policyKey
	}
	if f.Changed("label") {
		opts.engine.Labels = recommendFlags.labels
	}
	if f.Changed("score-key") {
		opts.engine.ScoreKey = recommendFlags.scoreKey
	}

	compiler, err := policy.NewCompiler(opts.engine.PolicyCacheSize)
	if err != nil {
		return recommendOptions{}, err
	}
	opts.compiler = compiler
	return opts, nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	opts, err := resolveRecommendOptions(cmd)
	if err != nil {
		return err
	}
	if opts.engine.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", opts.engine.Limit)
	}

	db, err := openGraph(cmd.Context())
	if err != nil {
		return err
	}
	defer closeGraph(db)

	registry := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return err
	}

	results, err := recommend(cmd.Context(), db, args, opts, collector)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		if err := writeJSON(out, r); err != nil {
			return err
		}
	}

	if recommendFlags.metricsOut != "" {
		if err := prometheus.WriteToTextfile(recommendFlags.metricsOut, registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// basePolicy combines the configured label filter and expression.
func basePolicy(ec config.EngineConfig, compiler *policy.Compiler) (policy.NodeInclusionPolicy, error) {
	var policies []policy.NodeInclusionPolicy
	if len(ec.Labels) > 0 {
		policies = append(policies, policy.HasLabel(ec.Labels...))
	}
	if ec.Policy != "" {
		p, err := compiler.Compile(ec.Policy)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if len(policies) == 0 {
		return policy.IncludeAll, nil
	}
	return policy.All(policies...), nil
}

func engineOptions(opts recommendOptions, collector *metrics.Collector) []engine.Option {
	ec := opts.engine
	options := []engine.Option{
		engine.WithLogger(logging.With("engine")),
		engine.WithMetrics(collector),
		engine.WithAttemptBudget(engine.LimitMultiple(ec.AttemptsPerResult)),
		engine.WithSelectorFactory(func(p policy.NodeInclusionPolicy) walk.NodeSelector {
			return walk.NewRandomNodeSelector(p, walk.WithMaxDraws(ec.SelectorDraws))
		}),
	}
	if opts.attempts > 0 {
		options = append(options, engine.WithAttemptBudget(engine.FixedAttempts(opts.attempts)))
	}
	if ec.ScoreKey != "" {
		options = append(options, engine.WithScorer(engine.PropertyScore(ec.ScoreKey, 1)))
	}
	return options
}

// inputPolicies returns the policies that apply to one input only: its own expression,
// read from the node data field named by the policy key, and the exclusion of its
// neighbourhood.
func inputPolicies(db graphreco.GraphDB, node graphreco.Node, opts recommendOptions) ([]policy.NodeInclusionPolicy, error) {
	var policies []policy.NodeInclusionPolicy
	if key := opts.engine.PolicyKey; key != "" && node.Data[key] != "" {
		p, err := opts.compiler.Compile(node.Data[key])
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if opts.excludeConnected >= 0 {
		connected, err := policy.NotReachableFrom(db, node.ID, opts.edgeTypes, opts.excludeConnected)
		if err != nil {
			return nil, err
		}
		policies = append(policies, connected)
	}
	return policies, nil
}

// recommend serves inputs with one shared engine, building a dedicated engine for an input
// only when policies specific to it apply. Expressions are compiled through opts.compiler,
// so inputs sharing an expression share the compiled program. Results keep the order of ids.
func recommend(ctx context.Context, db graphreco.GraphDB, ids []string, opts recommendOptions, collector *metrics.Collector) ([]recommendResult, error) {
	base, err := basePolicy(opts.engine, opts.compiler)
	if err != nil {
		return nil, err
	}

	shared, err := engine.NewRandomEngine(opts.engine.Name, base, engineOptions(opts, collector)...)
	if err != nil {
		return nil, err
	}

	engineFor := func(node graphreco.Node) (engine.Engine, error) {
		extra, err := inputPolicies(db, node, opts)
		if err != nil {
			return nil, err
		}
		if len(extra) == 0 {
			return shared, nil
		}
		return engine.NewRandomEngine(opts.engine.Name, policy.All(append([]policy.NodeInclusionPolicy{base}, extra...)...), engineOptions(opts, collector)...)
	}

	results := make([]recommendResult, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			node, err := db.GetNode(id)
			if err != nil {
				return fmt.Errorf("input %s: %w", id, err)
			}
			e, err := engineFor(node)
			if err != nil {
				return fmt.Errorf("input %s: %w", id, err)
			}

			recs, err := e.Recommend(engine.Input{Node: node, Graph: db}, engine.NewContext(opts.engine.Limit))
			if err != nil {
				return fmt.Errorf("input %s: %w", id, err)
			}
			results[i] = recommendResult{Input: id, Recommendations: recs.Sorted()}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
