package graphreco_test

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/badger"
	"github.com/fgrzl/graphreco/pebble"
	"github.com/fgrzl/graphreco/redis"
	"github.com/fgrzl/graphreco/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var implementations = []string{"sqlite", "pebble", "badger", "redis"}

func getGraphDB(t *testing.T, dbType string) graphreco.GraphDB {
	t.Helper()

	var (
		db  graphreco.GraphDB
		err error
	)
	switch dbType {
	case "sqlite":
		db, err = sqlite.NewGraphDBSQLite(filepath.Join(t.TempDir(), "test.db"))
	case "pebble":
		db, err = pebble.NewGraphDBPebble(filepath.Join(t.TempDir(), "test.pebble"))
	case "badger":
		db, err = badger.NewGraphDBBadgerInMemory()
	case "redis":
		mr := miniredis.RunT(t)
		db, err = redis.NewRedisGraph(mr.Addr())
	default:
		t.Fatalf("Unknown database type: %s", dbType)
	}
	require.NoError(t, err, "failed to open %s graph", dbType)

	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

func forEachImplementation(t *testing.T, fn func(t *testing.T, db graphreco.GraphDB)) {
	for _, dbType := range implementations {
		t.Run(dbType, func(t *testing.T) {
			fn(t, getGraphDB(t, dbType))
		})
	}
}

func edgeKeys(edges []graphreco.Edge) []string {
	keys := make([]string, 0, len(edges))
	for _, e := range edges {
		keys = append(keys, e.From+">"+e.To+":"+e.Type)
	}
	return keys
}

func nodeIDs(nodes []graphreco.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestPutNode(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		t.Run("should store labels and data", func(t *testing.T) {
			node := graphreco.Node{ID: "1", Labels: []string{"person"}, Data: map[string]string{"name": "Node 1"}}
			require.NoError(t, db.PutNode(node.ID, node))

			got, err := db.GetNode("1")
			require.NoError(t, err)
			assert.Equal(t, "1", got.ID)
			assert.Equal(t, []string{"person"}, got.Labels)
			assert.Equal(t, map[string]string{"name": "Node 1"}, got.Data)
		})

		t.Run("should update an existing node when node ID already exists", func(t *testing.T) {
			require.NoError(t, db.PutNode("1", graphreco.Node{ID: "1", Data: map[string]string{"name": "Updated Node 1"}}))

			got, err := db.GetNode("1")
			require.NoError(t, err)
			assert.Equal(t, "Updated Node 1", got.Data["name"])
			assert.Empty(t, got.Labels)
		})
	})
}

func TestPutNodes(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		t.Run("should add multiple valid nodes", func(t *testing.T) {
			err := db.PutNodes([]graphreco.Node{
				{ID: "1", Data: map[string]string{"name": "Node 1"}},
				{ID: "2", Data: map[string]string{"name": "Node 2"}},
			})
			require.NoError(t, err)

			for _, id := range []string{"1", "2"} {
				_, err := db.GetNode(id)
				assert.NoError(t, err)
			}
		})

		t.Run("should keep the last of duplicated IDs", func(t *testing.T) {
			err := db.PutNodes([]graphreco.Node{
				{ID: "3", Data: map[string]string{"name": "Node 3"}},
				{ID: "3", Data: map[string]string{"name": "Node 3 Updated"}},
			})
			require.NoError(t, err)

			got, err := db.GetNode("3")
			require.NoError(t, err)
			assert.Equal(t, "Node 3 Updated", got.Data["name"])
		})
	})
}

func TestGetNode(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		t.Run("should return ErrNotFound for a missing node", func(t *testing.T) {
			_, err := db.GetNode("missing")
			assert.ErrorIs(t, err, graphreco.ErrNotFound)
		})
	})
}

func TestRemoveNode(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		require.NoError(t, db.PutNodes([]graphreco.Node{{ID: "1"}, {ID: "2"}, {ID: "3"}}))
		require.NoError(t, db.PutEdges([]graphreco.Edge{
			{From: "1", To: "2", Type: "dependency"},
			{From: "3", To: "1", Type: "dependency"},
			{From: "2", To: "3", Type: "dependency"},
		}))

		t.Run("should remove the node and its edges in both directions", func(t *testing.T) {
			require.NoError(t, db.RemoveNode("1"))

			_, err := db.GetNode("1")
			assert.ErrorIs(t, err, graphreco.ErrNotFound)

			edges, err := db.OutEdges("1")
			require.NoError(t, err)
			assert.Empty(t, edges)

			edges, err = db.OutEdges("3")
			require.NoError(t, err)
			assert.Empty(t, edges)

			edges, err = db.OutEdges("2")
			require.NoError(t, err)
			assert.Equal(t, []string{"2>3:dependency"}, edgeKeys(edges))
		})

		t.Run("should return ErrNotFound when the node does not exist", func(t *testing.T) {
			assert.ErrorIs(t, db.RemoveNode("1"), graphreco.ErrNotFound)
		})
	})
}

func TestEdges(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		require.NoError(t, db.PutNodes([]graphreco.Node{{ID: "1"}, {ID: "2"}, {ID: "3"}}))

		t.Run("should add and update an edge", func(t *testing.T) {
			require.NoError(t, db.PutEdge("1", "2", "dependency", map[string]string{"weight": "10"}))
			require.NoError(t, db.PutEdge("1", "2", "dependency", map[string]string{"weight": "20"}))

			edges, err := db.OutEdges("1")
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, "20", edges[0].Params["weight"])
		})

		t.Run("should keep edges of different types apart", func(t *testing.T) {
			require.NoError(t, db.PutEdges([]graphreco.Edge{
				{From: "1", To: "2", Type: "reference"},
				{From: "1", To: "3", Type: "dependency"},
				{From: "2", To: "3", Type: "dependency"},
			}))

			edges, err := db.OutEdges("1")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"1>2:dependency", "1>2:reference", "1>3:dependency"}, edgeKeys(edges))
		})

		t.Run("should remove a single edge", func(t *testing.T) {
			require.NoError(t, db.RemoveEdge("1", "2", "reference"))

			edges, err := db.OutEdges("1")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"1>2:dependency", "1>3:dependency"}, edgeKeys(edges))
		})

		t.Run("should return ErrNotFound for a missing edge", func(t *testing.T) {
			assert.ErrorIs(t, db.RemoveEdge("1", "2", "reference"), graphreco.ErrNotFound)
			assert.ErrorIs(t, db.RemoveEdges([]graphreco.Edge{{From: "3", To: "1", Type: "dependency"}}), graphreco.ErrNotFound)
		})

		t.Run("should remove multiple edges", func(t *testing.T) {
			require.NoError(t, db.RemoveEdges([]graphreco.Edge{
				{From: "1", To: "2", Type: "dependency"},
				{From: "2", To: "3", Type: "dependency"},
			}))

			edges, err := db.OutEdges("2")
			require.NoError(t, err)
			assert.Empty(t, edges)
		})
	})
}

func TestTraverse(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		require.NoError(t, db.PutNodes([]graphreco.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}))
		require.NoError(t, db.PutEdges([]graphreco.Edge{
			{From: "a", To: "b", Type: "follows"},
			{From: "b", To: "c", Type: "follows"},
			{From: "c", To: "a", Type: "follows"},
			{From: "a", To: "d", Type: "blocks"},
			{From: "d", To: "gone", Type: "follows"},
		}))

		t.Run("should return only the start node at depth zero", func(t *testing.T) {
			nodes, edges, err := graphreco.Traverse(db, "a", nil, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, nodeIDs(nodes))
			assert.Empty(t, edges)
		})

		t.Run("should stop at the requested depth", func(t *testing.T) {
			nodes, edges, err := graphreco.Traverse(db, "a", nil, 1)
			require.NoError(t, err)
			assert.Equal(t, "a", nodes[0].ID)
			assert.ElementsMatch(t, []string{"a", "b", "d"}, nodeIDs(nodes))
			assert.ElementsMatch(t, []string{"a>b:follows", "a>d:blocks"}, edgeKeys(edges))
		})

		t.Run("should visit each node once in a cycle", func(t *testing.T) {
			nodes, _, err := graphreco.Traverse(db, "a", map[string]bool{"follows": true}, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b", "c"}, nodeIDs(nodes))
		})

		t.Run("should skip edges to missing nodes", func(t *testing.T) {
			nodes, edges, err := graphreco.Traverse(db, "d", nil, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"d"}, nodeIDs(nodes))
			assert.Equal(t, []string{"d>gone:follows"}, edgeKeys(edges))
		})

		t.Run("should reach nodes through their shortest path", func(t *testing.T) {
			require.NoError(t, db.PutNodes([]graphreco.Node{{ID: "s"}, {ID: "p"}, {ID: "q"}, {ID: "r"}, {ID: "u"}, {ID: "v"}}))
			require.NoError(t, db.PutEdges([]graphreco.Edge{
				{From: "s", To: "p", Type: "knows"},
				{From: "p", To: "q", Type: "knows"},
				{From: "q", To: "r", Type: "knows"},
				{From: "s", To: "u", Type: "knows"},
				{From: "u", To: "v", Type: "knows"},
				{From: "v", To: "q", Type: "knows"},
			}))

			nodes, _, err := graphreco.Traverse(db, "s", nil, 3)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"s", "p", "q", "r", "u", "v"}, nodeIDs(nodes))

			nodes, _, err = graphreco.Traverse(db, "s", nil, 2)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"s", "p", "q", "u", "v"}, nodeIDs(nodes))
		})

		t.Run("should fail for an unknown start node", func(t *testing.T) {
			_, _, err := graphreco.Traverse(db, "missing", nil, 1)
			assert.ErrorIs(t, err, graphreco.ErrNotFound)
		})
	})
}

func TestNodeSpace(t *testing.T) {
	forEachImplementation(t, func(t *testing.T, db graphreco.GraphDB) {
		t.Run("should report an empty graph", func(t *testing.T) {
			_, err := db.RandomNode()
			assert.ErrorIs(t, err, graphreco.ErrNoNodes)

			_, err = graphreco.SampleScan(db)
			assert.ErrorIs(t, err, graphreco.ErrNoNodes)
		})

		require.NoError(t, db.PutNodes([]graphreco.Node{
			{ID: "1", Labels: []string{"person"}},
			{ID: "2", Labels: []string{"company"}},
			{ID: "3", Labels: []string{"person"}},
		}))

		t.Run("should draw stored nodes", func(t *testing.T) {
			seen := make(map[string]bool)
			for i := 0; i < 200; i++ {
				node, err := db.RandomNode()
				require.NoError(t, err)
				seen[node.ID] = true
			}
			assert.Subset(t, []string{"1", "2", "3"}, keysOf(seen))
			assert.Greater(t, len(seen), 1)
		})

		t.Run("should scan every node", func(t *testing.T) {
			var ids []string
			require.NoError(t, db.ScanNodes(func(n graphreco.Node) bool {
				ids = append(ids, n.ID)
				return true
			}))
			assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)
		})

		t.Run("should stop scanning when asked", func(t *testing.T) {
			count := 0
			require.NoError(t, db.ScanNodes(func(graphreco.Node) bool {
				count++
				return false
			}))
			assert.Equal(t, 1, count)
		})

		t.Run("should sample only kept nodes", func(t *testing.T) {
			for i := 0; i < 50; i++ {
				node, err := graphreco.SampleScanFunc(db, func(n graphreco.Node) bool { return n.HasLabel("company") })
				require.NoError(t, err)
				assert.Equal(t, "2", node.ID)
			}

			_, err := graphreco.SampleScanFunc(db, func(graphreco.Node) bool { return false })
			assert.ErrorIs(t, err, graphreco.ErrNoNodes)
		})
	})
}

func keysOf(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
