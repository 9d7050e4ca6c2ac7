package tablestorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/fgrzl/graphreco"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable keeps entities in memory and understands the "<field> eq '<value>'" filters
// the graph sends.
type fakeTable struct {
	mu       sync.Mutex
	entities map[string]aztables.EDMEntity
	raw      map[string][]byte
	// failList makes every list call fail.
	failList bool
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		entities: make(map[string]aztables.EDMEntity),
		raw:      make(map[string][]byte),
	}
}

func entityKey(partitionKey, rowKey string) string {
	return partitionKey + "\x00" + rowKey
}

func notFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
}

func (f *fakeTable) upsert(raw []byte) error {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return err
	}
	key := entityKey(entity.PartitionKey, entity.RowKey)
	f.entities[key] = entity
	f.raw[key] = raw
	return nil
}

func (f *fakeTable) GetEntity(_ context.Context, partitionKey, rowKey string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.raw[entityKey(partitionKey, rowKey)]
	if !ok {
		return aztables.GetEntityResponse{}, notFound()
	}
	return aztables.GetEntityResponse{Value: raw}, nil
}

func (f *fakeTable) UpsertEntity(_ context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.UpsertEntityResponse{}, f.upsert(entity)
}

func (f *fakeTable) DeleteEntity(_ context.Context, partitionKey, rowKey string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entityKey(partitionKey, rowKey)
	if _, ok := f.raw[key]; !ok {
		return aztables.DeleteEntityResponse{}, notFound()
	}
	delete(f.entities, key)
	delete(f.raw, key)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failList {
				return aztables.ListEntitiesResponse{}, errors.New("connection reset")
			}

			field, rest, _ := strings.Cut(*opts.Filter, " eq '")
			value := strings.ReplaceAll(strings.TrimSuffix(rest, "'"), "''", "'")

			var page aztables.ListEntitiesResponse
			for key, entity := range f.entities {
				got := entity.PartitionKey
				if field != "PartitionKey" {
					got, _ = entity.Properties[field].(string)
				}
				if got == value {
					page.Entities = append(page.Entities, f.raw[key])
				}
			}
			return page, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(_ context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(actions) > maxTransaction {
		return aztables.TransactionResponse{}, errors.New("too many actions")
	}

	partitions := make(map[string]bool)
	rows := make(map[string]bool)
	for _, action := range actions {
		var entity aztables.EDMEntity
		if err := json.Unmarshal(action.Entity, &entity); err != nil {
			return aztables.TransactionResponse{}, err
		}
		partitions[entity.PartitionKey] = true
		if rows[entity.RowKey] {
			return aztables.TransactionResponse{}, errors.New("InvalidDuplicateRow: the batch request contains multiple changes to the same entity")
		}
		rows[entity.RowKey] = true
	}
	if len(partitions) > 1 {
		return aztables.TransactionResponse{}, errors.New("CommandsInBatchActOnDifferentPartitions")
	}

	for _, action := range actions {
		if err := f.upsert(action.Entity); err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	return aztables.TransactionResponse{}, nil
}

func TestNodeEntity(t *testing.T) {
	t.Run("should place nodes in the node partition", func(t *testing.T) {
		raw, err := nodeEntity(graphreco.Node{ID: "1", Labels: []string{"person"}})
		require.NoError(t, err)

		var entity aztables.EDMEntity
		require.NoError(t, json.Unmarshal(raw, &entity))
		assert.Equal(t, "node", entity.PartitionKey)
		assert.Equal(t, "1", entity.RowKey)
	})

	t.Run("should read back labels and data", func(t *testing.T) {
		node := graphreco.Node{ID: "1", Labels: []string{"person", "admin"}, Data: map[string]string{"name": "Ann"}}
		raw, err := nodeEntity(node)
		require.NoError(t, err)

		got, err := nodeFromEntity(raw)
		require.NoError(t, err)
		assert.Equal(t, node, got)
	})

	t.Run("should fail on malformed entities", func(t *testing.T) {
		_, err := nodeFromEntity([]byte("{"))
		assert.Error(t, err)
	})
}

func TestEdgeEntity(t *testing.T) {
	t.Run("should partition edges by their source node", func(t *testing.T) {
		raw, err := edgeEntity(graphreco.Edge{From: "1", To: "2", Type: "follows"})
		require.NoError(t, err)

		var entity aztables.EDMEntity
		require.NoError(t, json.Unmarshal(raw, &entity))
		assert.Equal(t, "edge:1", entity.PartitionKey)
		assert.Equal(t, "2:follows", entity.RowKey)
	})

	t.Run("should read back endpoints and params", func(t *testing.T) {
		edge := graphreco.Edge{From: "1", To: "2", Type: "follows", Params: map[string]string{"since": "2020"}}
		raw, err := edgeEntity(edge)
		require.NoError(t, err)

		got, err := edgeFromEntity(raw)
		require.NoError(t, err)
		assert.Equal(t, edge, got)
	})
}

func TestHelpers(t *testing.T) {
	t.Run("should escape single quotes in filters", func(t *testing.T) {
		assert.Equal(t, "O''Brien", quote("O'Brien"))
	})

	t.Run("should recognise not found responses", func(t *testing.T) {
		notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
		assert.True(t, isNotFound(fmt.Errorf("get: %w", notFound)))
		assert.False(t, isNotFound(errors.New("boom")))
		assert.False(t, isNotFound(nil))
	})

	t.Run("should match error codes", func(t *testing.T) {
		exists := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "TableAlreadyExists"}
		assert.True(t, isResponseCode(exists, "TableAlreadyExists"))
		assert.False(t, isResponseCode(exists, "ResourceNotFound"))
	})
}

func TestGraph(t *testing.T) {
	fake := newFakeTable()
	db := newAzureTableGraph(fake)

	require.NoError(t, db.PutNodes([]graphreco.Node{
		{ID: "1", Data: map[string]string{"v": "old"}},
		{ID: "2"},
		{ID: "3"},
		{ID: "1", Data: map[string]string{"v": "new"}},
	}))
	require.NoError(t, db.PutEdges([]graphreco.Edge{
		{From: "1", To: "2", Type: "follows"},
		{From: "1", To: "2", Type: "follows", Params: map[string]string{"since": "2020"}},
		{From: "2", To: "1", Type: "follows"},
		{From: "3", To: "1", Type: "follows"},
		{From: "1", To: "1", Type: "self"},
	}))

	t.Run("should write repeated nodes and edges once with their last value", func(t *testing.T) {
		node, err := db.GetNode("1")
		require.NoError(t, err)
		assert.Equal(t, "new", node.Data["v"])

		edges, err := db.OutEdges("1")
		require.NoError(t, err)
		assert.Len(t, edges, 2)
		for _, e := range edges {
			if e.Type == "follows" {
				assert.Equal(t, "2020", e.Params["since"])
			}
		}
	})

	t.Run("should keep edges apart when ids contain the separator", func(t *testing.T) {
		assert.NotEqual(t, getEdgeKey("a:b", "c"), getEdgeKey("a", "b:c"))
		assert.NotContains(t, getEdgeKey("a/b#c?d", "e"), "/")

		require.NoError(t, db.PutEdges([]graphreco.Edge{
			{From: "x", To: "a:b", Type: "c"},
			{From: "x", To: "a", Type: "b:c"},
		}))
		edges, err := db.OutEdges("x")
		require.NoError(t, err)
		assert.Len(t, edges, 2)
	})

	t.Run("should remove a repeated edge once", func(t *testing.T) {
		edge := graphreco.Edge{From: "x", To: "a", Type: "b:c"}
		require.NoError(t, db.RemoveEdges([]graphreco.Edge{edge, edge}))
		assert.ErrorIs(t, db.RemoveEdge("x", "a", "b:c"), graphreco.ErrNotFound)
	})

	t.Run("should keep the node when its edges cannot be listed", func(t *testing.T) {
		fake.failList = true
		assert.Error(t, db.RemoveNode("1"))
		fake.failList = false

		_, err := db.GetNode("1")
		require.NoError(t, err)
		edges, err := db.OutEdges("3")
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("should remove a node with incoming, outgoing and looping edges", func(t *testing.T) {
		require.NoError(t, db.RemoveNode("1"))

		_, err := db.GetNode("1")
		assert.ErrorIs(t, err, graphreco.ErrNotFound)
		for _, id := range []string{"1", "2", "3"} {
			edges, err := db.OutEdges(id)
			require.NoError(t, err)
			assert.Empty(t, edges, id)
		}
		assert.ErrorIs(t, db.RemoveNode("1"), graphreco.ErrNotFound)
	})
}
