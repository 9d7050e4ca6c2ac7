package tablestorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/fgrzl/graphreco"
	"github.com/goccy/go-json"
)

// maxTransaction is the Table Storage limit on actions per entity group transaction.
const maxTransaction = 100

// nodePartition holds every node so the node space can be listed by partition.
const nodePartition = "node"

// tableAPI is the part of *aztables.Client the graph uses.
type tableAPI interface {
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tr *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

var _ tableAPI = (*aztables.Client)(nil)

type azureTableGraph struct {
	tableClient tableAPI
	ctx         context.Context
}

func newAzureTableGraph(client tableAPI) *azureTableGraph {
	return &azureTableGraph{
		tableClient: client,
		ctx:         context.Background(),
	}
}

// NewAzureTableGraph connects to tableName and creates it if missing.
func NewAzureTableGraph(connectionString string, tableName string) (graphreco.GraphDB, error) {
	service, err := aztables.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Table client: %w", err)
	}
	client := service.NewClient(tableName)

	ctx := context.Background()
	if _, err := client.CreateTable(ctx, nil); err != nil && !isResponseCode(err, "TableAlreadyExists") {
		return nil, fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	return newAzureTableGraph(client), nil
}

// Helper function to get the partition of the edges leaving a node
func getEdgePartition(fromID string) string {
	return "edge:" + fromID // PartitionKey is "edge:{fromID}"
}

// Helper function to get the row key of an edge. RowKey is "{toID}:{type}" with both parts
// query-escaped, so neither holds ':' or a character Table Storage forbids in keys.
func getEdgeKey(toID, edgeType string) string {
	return url.QueryEscape(toID) + ":" + url.QueryEscape(edgeType)
}

// uniqueActions keeps the last action per row key; a transaction may not touch an entity
// twice.
type uniqueActions struct {
	index   map[string]int
	actions []aztables.TransactionAction
}

func (u *uniqueActions) add(rowKey string, action aztables.TransactionAction) {
	if i, ok := u.index[rowKey]; ok {
		u.actions[i] = action
		return
	}
	if u.index == nil {
		u.index = make(map[string]int)
	}
	u.index[rowKey] = len(u.actions)
	u.actions = append(u.actions, action)
}

func nodeEntity(node graphreco.Node) ([]byte, error) {
	labels, err := graphreco.EncodeStrings(node.Labels)
	if err != nil {
		return nil, err
	}
	data, err := graphreco.EncodeStrings(node.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: nodePartition,
			RowKey:       node.ID,
		},
		Properties: map[string]any{
			"Labels": labels,
			"Data":   data,
		},
	})
}

func nodeFromEntity(raw []byte) (graphreco.Node, error) {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode node entity: %w", err)
	}

	node := graphreco.Node{ID: entity.RowKey}
	if err := graphreco.DecodeStrings(stringProperty(entity, "Labels"), &node.Labels); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode labels of node %s: %w", node.ID, err)
	}
	if err := graphreco.DecodeStrings(stringProperty(entity, "Data"), &node.Data); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode data of node %s: %w", node.ID, err)
	}
	return node, nil
}

func edgeEntity(edge graphreco.Edge) ([]byte, error) {
	params, err := graphreco.EncodeStrings(edge.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: getEdgePartition(edge.From),
			RowKey:       getEdgeKey(edge.To, edge.Type),
		},
		Properties: map[string]any{
			"From":   edge.From,
			"To":     edge.To,
			"Type":   edge.Type,
			"Params": params,
		},
	})
}

func edgeFromEntity(raw []byte) (graphreco.Edge, error) {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return graphreco.Edge{}, fmt.Errorf("could not decode edge entity: %w", err)
	}

	edge := graphreco.Edge{
		From: stringProperty(entity, "From"),
		To:   stringProperty(entity, "To"),
		Type: stringProperty(entity, "Type"),
	}
	if err := graphreco.DecodeStrings(stringProperty(entity, "Params"), &edge.Params); err != nil {
		return graphreco.Edge{}, fmt.Errorf("could not decode params of edge %s-%s: %w", edge.From, edge.To, err)
	}
	return edge, nil
}

func (db *azureTableGraph) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	entity, err := nodeEntity(node)
	if err != nil {
		return err
	}
	_, err = db.tableClient.UpsertEntity(db.ctx, entity, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (db *azureTableGraph) PutNodes(nodes []graphreco.Node) error {
	var batch uniqueActions
	for _, node := range nodes {
		entity, err := nodeEntity(node)
		if err != nil {
			return err
		}
		batch.add(node.ID, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     entity,
		})
	}
	return db.submit(batch.actions)
}

func (db *azureTableGraph) GetNode(id string) (graphreco.Node, error) {
	resp, err := db.tableClient.GetEntity(db.ctx, nodePartition, id, nil)
	if isNotFound(err) {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to retrieve node %s: %w", id, err)
	}
	return nodeFromEntity(resp.Value)
}

// RemoveNode deletes the node's edges before the node, so a failure leaves the node in
// place to retry the removal.
func (db *azureTableGraph) RemoveNode(id string) error {
	if _, err := db.GetNode(id); err != nil {
		return err
	}

	out, err := db.OutEdges(id)
	if err != nil {
		return err
	}
	in, err := db.listEdges(fmt.Sprintf("To eq '%s'", quote(id)))
	if err != nil {
		return err
	}
	for _, edge := range append(out, in...) {
		err := db.deleteEdge(edge.From, edge.To, edge.Type)
		if err != nil && !errors.Is(err, graphreco.ErrNotFound) {
			return err
		}
	}

	_, err = db.tableClient.DeleteEntity(db.ctx, nodePartition, id, nil)
	if isNotFound(err) {
		return fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to remove node %s: %w", id, err)
	}
	return nil
}

func (db *azureTableGraph) PutEdge(fromID, toID, edgeType string, params map[string]string) error {
	entity, err := edgeEntity(graphreco.Edge{From: fromID, To: toID, Type: edgeType, Params: params})
	if err != nil {
		return err
	}
	_, err = db.tableClient.UpsertEntity(db.ctx, entity, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// PutEdges groups edges by source node since a transaction may only span one partition.
func (db *azureTableGraph) PutEdges(edges []graphreco.Edge) error {
	byPartition := make(map[string]*uniqueActions)
	var order []string
	for _, edge := range edges {
		entity, err := edgeEntity(edge)
		if err != nil {
			return err
		}
		partition := getEdgePartition(edge.From)
		batch, ok := byPartition[partition]
		if !ok {
			batch = &uniqueActions{}
			byPartition[partition] = batch
			order = append(order, partition)
		}
		batch.add(getEdgeKey(edge.To, edge.Type), aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     entity,
		})
	}

	for _, partition := range order {
		if err := db.submit(byPartition[partition].actions); err != nil {
			return err
		}
	}
	return nil
}

func (db *azureTableGraph) RemoveEdge(fromID, toID, edgeType string) error {
	return db.RemoveEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType}})
}

// RemoveEdges checks every edge exists before deleting any of them.
func (db *azureTableGraph) RemoveEdges(edges []graphreco.Edge) error {
	seen := make(map[string]bool, len(edges))
	unique := make([]graphreco.Edge, 0, len(edges))
	for _, edge := range edges {
		key := getEdgePartition(edge.From) + "/" + getEdgeKey(edge.To, edge.Type)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, edge)
		}
	}

	for _, edge := range unique {
		_, err := db.tableClient.GetEntity(db.ctx, getEdgePartition(edge.From), getEdgeKey(edge.To, edge.Type), nil)
		if isNotFound(err) {
			return fmt.Errorf("edge %s-%s (%s): %w", edge.From, edge.To, edge.Type, graphreco.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to retrieve edge %s-%s: %w", edge.From, edge.To, err)
		}
	}
	for _, edge := range unique {
		if err := db.deleteEdge(edge.From, edge.To, edge.Type); err != nil {
			return err
		}
	}
	return nil
}

func (db *azureTableGraph) deleteEdge(fromID, toID, edgeType string) error {
	_, err := db.tableClient.DeleteEntity(db.ctx, getEdgePartition(fromID), getEdgeKey(toID, edgeType), nil)
	if isNotFound(err) {
		return fmt.Errorf("edge %s-%s (%s): %w", fromID, toID, edgeType, graphreco.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete edge %s-%s: %w", fromID, toID, err)
	}
	return nil
}

func (db *azureTableGraph) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	return db.listEdges(fmt.Sprintf("PartitionKey eq '%s'", quote(getEdgePartition(nodeID))))
}

func (db *azureTableGraph) listEdges(filter string) ([]graphreco.Edge, error) {
	var edges []graphreco.Edge
	err := db.list(filter, func(raw []byte) (bool, error) {
		edge, err := edgeFromEntity(raw)
		if err != nil {
			return false, err
		}
		edges = append(edges, edge)
		return true, nil
	})
	return edges, err
}

func (db *azureTableGraph) RandomNode() (graphreco.Node, error) {
	return graphreco.SampleScan(db)
}

func (db *azureTableGraph) ScanNodes(fn func(graphreco.Node) bool) error {
	return db.list(fmt.Sprintf("PartitionKey eq '%s'", nodePartition), func(raw []byte) (bool, error) {
		node, err := nodeFromEntity(raw)
		if err != nil {
			return false, err
		}
		return fn(node), nil
	})
}

func (db *azureTableGraph) list(filter string, fn func(raw []byte) (bool, error)) error {
	pager := db.tableClient.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(db.ctx)
		if err != nil {
			return fmt.Errorf("failed to list entities: %w", err)
		}
		for _, raw := range resp.Entities {
			more, err := fn(raw)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
	return nil
}

func (db *azureTableGraph) submit(actions []aztables.TransactionAction) error {
	for start := 0; start < len(actions); start += maxTransaction {
		end := min(start+maxTransaction, len(actions))
		if _, err := db.tableClient.SubmitTransaction(db.ctx, actions[start:end], nil); err != nil {
			return fmt.Errorf("failed to submit transaction: %w", err)
		}
	}
	return nil
}

func (db *azureTableGraph) Close() error {
	// Azure Table Storage doesn't require explicit cleanup, so nothing to do here
	return nil
}

func stringProperty(entity aztables.EDMEntity, name string) string {
	s, _ := entity.Properties[name].(string)
	return s
}

// quote escapes a value for use inside a single-quoted OData literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isResponseCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
