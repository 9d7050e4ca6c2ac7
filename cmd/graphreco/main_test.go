package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/badger"
	"github.com/fgrzl/graphreco/internal/config"
	"github.com/fgrzl/graphreco/metrics"
	"github.com/fgrzl/graphreco/policy"
)

const testGraph = `{
  "nodes": [
    {"id": "alice", "labels": ["person"]},
    {"id": "bob", "labels": ["person"], "data": {"weight": "7"}},
    {"id": "carol", "labels": ["person"], "data": {"weight": "3"}},
    {"id": "acme", "labels": ["company"]}
  ],
  "edges": [
    {"from": "alice", "to": "bob", "type": "follows"},
    {"from": "bob", "to": "acme", "type": "works_at"}
  ]
}`

func testDB(t *testing.T) graphreco.GraphDB {
	t.Helper()
	db, err := badger.NewGraphDBBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PutNodes([]graphreco.Node{
		{ID: "alice", Labels: []string{"person"}},
		{ID: "bob", Labels: []string{"person"}, Data: map[string]string{"weight": "7"}},
		{ID: "carol", Labels: []string{"person"}, Data: map[string]string{"weight": "3"}},
		{ID: "acme", Labels: []string{"company"}},
	}))
	require.NoError(t, db.PutEdges([]graphreco.Edge{
		{From: "alice", To: "bob", Type: "follows"},
		{From: "bob", To: "acme", Type: "works_at"},
	}))
	return db
}

func testOptions(t *testing.T) recommendOptions {
	t.Helper()
	compiler, err := policy.NewCompiler(8)
	require.NoError(t, err)
	return recommendOptions{
		engine:           config.Default().Engine,
		excludeConnected: -1,
		concurrency:      2,
		compiler:         compiler,
	}
}

func TestRecommendInputs(t *testing.T) {
	db := testDB(t)

	t.Run("should exclude the input and its neighbours", func(t *testing.T) {
		opts := testOptions(t)
		opts.engine.Labels = []string{"person"}
		opts.excludeConnected = 1

		results, err := recommend(context.Background(), db, []string{"alice"}, opts, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Len(t, results[0].Recommendations, 1)
		assert.Equal(t, "carol", results[0].Recommendations[0].Node.ID)
	})

	t.Run("should keep input order and honour the limit", func(t *testing.T) {
		opts := testOptions(t)
		opts.engine.Limit = 2

		results, err := recommend(context.Background(), db, []string{"carol", "alice", "bob"}, opts, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		for i, id := range []string{"carol", "alice", "bob"} {
			assert.Equal(t, id, results[i].Input)
			assert.LessOrEqual(t, len(results[i].Recommendations), 2)
		}
	})

	t.Run("should order by the configured score", func(t *testing.T) {
		opts := testOptions(t)
		opts.engine.Policy = `data["weight"] != ""`
		opts.engine.ScoreKey = "weight"

		results, err := recommend(context.Background(), db, []string{"alice"}, opts, nil)
		require.NoError(t, err)
		recs := results[0].Recommendations
		require.Len(t, recs, 2)
		assert.Equal(t, "bob", recs[0].Node.ID)
		assert.Equal(t, 7, recs[0].Score)
		assert.Equal(t, "carol", recs[1].Node.ID)
	})

	t.Run("should record metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(registry)
		require.NoError(t, err)

		_, err = recommend(context.Background(), db, []string{"alice", "bob"}, testOptions(t), collector)
		require.NoError(t, err)

		families, err := registry.Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "graphreco_engine_recommendations_total")
	})

	t.Run("should fail for an unknown input", func(t *testing.T) {
		_, err := recommend(context.Background(), db, []string{"nobody"}, testOptions(t), nil)
		assert.ErrorIs(t, err, graphreco.ErrNotFound)
	})

	t.Run("should apply the policy stored on each input", func(t *testing.T) {
		db := testDB(t)
		wants := `"company" in labels`
		require.NoError(t, db.PutNodes([]graphreco.Node{
			{ID: "dave", Labels: []string{"person"}, Data: map[string]string{"wants": wants}},
			{ID: "erin", Labels: []string{"person"}, Data: map[string]string{"wants": " " + wants}},
		}))

		opts := testOptions(t)
		opts.engine.PolicyKey = "wants"
		opts.engine.Policy = `id != "nobody"`

		results, err := recommend(context.Background(), db, []string{"dave", "erin", "alice"}, opts, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		for _, r := range results[:2] {
			require.Len(t, r.Recommendations, 1, r.Input)
			assert.Equal(t, "acme", r.Recommendations[0].Node.ID)
		}
		assert.Greater(t, len(results[2].Recommendations), 1)
		assert.Equal(t, 2, opts.compiler.Len(), "inputs sharing an expression share one compiled policy")
	})

	t.Run("should fail for an invalid input policy", func(t *testing.T) {
		db := testDB(t)
		require.NoError(t, db.PutNode("dave", graphreco.Node{ID: "dave", Data: map[string]string{"wants": "labels &&"}}))

		opts := testOptions(t)
		opts.engine.PolicyKey = "wants"

		_, err := recommend(context.Background(), db, []string{"dave"}, opts, nil)
		assert.ErrorContains(t, err, "input dave")
	})

	t.Run("should fail for an invalid policy", func(t *testing.T) {
		opts := testOptions(t)
		opts.engine.Policy = "labels &&"

		_, err := recommend(context.Background(), db, []string{"alice"}, opts, nil)
		assert.Error(t, err)
	})
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("GRAPHRECO_SQLITE__PATH", filepath.Join(dir, "graph.db"))
	t.Setenv("GRAPHRECO_LOG__LEVEL", "disabled")

	graphFile := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(graphFile, []byte(testGraph), 0o600))

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		err := rootCmd.Execute()
		return out.String(), err
	}

	t.Run("should import a graph file", func(t *testing.T) {
		out, err := run(t, "import", graphFile)
		require.NoError(t, err)
		assert.Contains(t, out, "4 nodes, 2 edges")
	})

	t.Run("should recommend and write metrics", func(t *testing.T) {
		metricsFile := filepath.Join(dir, "metrics.prom")
		out, err := run(t, "recommend", "alice", "--limit", "2", "--label", "person", "--metrics-out", metricsFile)
		require.NoError(t, err)

		var result recommendResult
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &result))
		assert.Equal(t, "alice", result.Input)
		assert.Len(t, result.Recommendations, 2)
		for _, rec := range result.Recommendations {
			assert.True(t, rec.Node.HasLabel("person"))
		}

		data, err := os.ReadFile(metricsFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "graphreco_engine_draws_total")
	})

	t.Run("should traverse from a node", func(t *testing.T) {
		out, err := run(t, "graph", "traverse", "alice", "--depth", "2")
		require.NoError(t, err)
		assert.Contains(t, out, `"acme"`)
	})

	t.Run("should remove an edge once", func(t *testing.T) {
		_, err := run(t, "graph", "remove-edge", "alice", "bob", "follows")
		require.NoError(t, err)

		_, err = run(t, "graph", "remove-edge", "alice", "bob", "follows")
		assert.ErrorIs(t, err, graphreco.ErrNotFound)
	})

	t.Run("should remove a node", func(t *testing.T) {
		_, err := run(t, "graph", "remove-node", "acme")
		require.NoError(t, err)

		_, err = run(t, "graph", "get", "acme")
		assert.ErrorIs(t, err, graphreco.ErrNotFound)
	})
}

// chdir changes the working directory to dir until the test ends (testing.T.Chdir needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}
