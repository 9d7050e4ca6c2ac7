package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fgrzl/graphreco"
)

// maxBatchWrite is the DynamoDB limit on requests per BatchWriteItem call.
const maxBatchWrite = 25

// maxBatchRounds bounds how often unprocessed items are resubmitted.
const maxBatchRounds = 8

// API is the subset of the DynamoDB client used by the graph.
type API interface {
	dynamodb.ScanAPIClient
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ graphreco.GraphDB = (*GraphDBDynamoDB)(nil)

// GraphDBDynamoDB stores nodes keyed by "id" and edges keyed by "from_id" (hash) and
// "edge_key" (range, see edgeSortKey).
type GraphDBDynamoDB struct {
	svc       API
	ctx       context.Context
	nodeTable string
	edgeTable string
}

// NewGraphDBDynamoDB creates a new instance of GraphDBDynamoDB
func NewGraphDBDynamoDB(svc API, nodeTable, edgeTable string) *GraphDBDynamoDB {
	return &GraphDBDynamoDB{
		svc:       svc,
		ctx:       context.Background(),
		nodeTable: nodeTable,
		edgeTable: edgeTable,
	}
}

// NewGraphDBDynamoDBFromConfig loads the default AWS configuration and connects to DynamoDB.
// A non-empty endpoint overrides the service endpoint (e.g. DynamoDB Local).
func NewGraphDBDynamoDBFromConfig(ctx context.Context, region, endpoint, nodeTable, edgeTable string) (graphreco.GraphDB, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewGraphDBDynamoDB(client, nodeTable, edgeTable), nil
}

// PutNode adds a single node to the database
func (db *GraphDBDynamoDB) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	_, err := db.svc.PutItem(db.ctx, &dynamodb.PutItemInput{
		TableName: aws.String(db.nodeTable),
		Item:      nodeItem(node),
	})
	if err != nil {
		return fmt.Errorf("failed to put node %s: %w", id, err)
	}
	return nil
}

// PutNodes adds multiple nodes using batch write. A node listed twice is written once,
// with its last value.
func (db *GraphDBDynamoDB) PutNodes(nodes []graphreco.Node) error {
	var batch uniqueRequests[string]
	for _, node := range nodes {
		batch.put(node.ID, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: nodeItem(node)},
		})
	}
	return db.batchWrite(db.nodeTable, batch.requests)
}

// GetNode retrieves a node by its ID
func (db *GraphDBDynamoDB) GetNode(id string) (graphreco.Node, error) {
	result, err := db.svc.GetItem(db.ctx, &dynamodb.GetItemInput{
		TableName: aws.String(db.nodeTable),
		Key:       nodeKey(id),
	})
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to retrieve node %s: %w", id, err)
	}
	if result.Item == nil {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}
	return nodeFromItem(result.Item)
}

// RemoveNode removes a node together with its outgoing and incoming edges
func (db *GraphDBDynamoDB) RemoveNode(id string) error {
	if _, err := db.GetNode(id); err != nil {
		return err
	}

	out, err := db.OutEdges(id)
	if err != nil {
		return err
	}
	in, err := db.inEdges(id)
	if err != nil {
		return err
	}

	// a self-loop shows up in both lists
	var batch uniqueRequests[edgeRef]
	for _, edge := range append(out, in...) {
		batch.put(refOf(edge), types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: edgeKey(edge.From, edge.To, edge.Type)},
		})
	}
	if err := db.batchWrite(db.edgeTable, batch.requests); err != nil {
		return err
	}

	_, err = db.svc.DeleteItem(db.ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(db.nodeTable),
		Key:       nodeKey(id),
	})
	if err != nil {
		return fmt.Errorf("failed to remove node %s: %w", id, err)
	}
	return nil
}

// PutEdge adds a single edge to the database
func (db *GraphDBDynamoDB) PutEdge(from, to, edgeType string, params map[string]string) error {
	_, err := db.svc.PutItem(db.ctx, &dynamodb.PutItemInput{
		TableName: aws.String(db.edgeTable),
		Item:      edgeItem(graphreco.Edge{From: from, To: to, Type: edgeType, Params: params}),
	})
	if err != nil {
		return fmt.Errorf("failed to put edge %s-%s: %w", from, to, err)
	}
	return nil
}

// PutEdges adds multiple edges using batch write. An edge listed twice is written once,
// with its last params.
func (db *GraphDBDynamoDB) PutEdges(edges []graphreco.Edge) error {
	var batch uniqueRequests[edgeRef]
	for _, edge := range edges {
		batch.put(refOf(edge), types.WriteRequest{
			PutRequest: &types.PutRequest{Item: edgeItem(edge)},
		})
	}
	return db.batchWrite(db.edgeTable, batch.requests)
}

// RemoveEdge removes a single edge, failing with ErrNotFound if it does not exist
func (db *GraphDBDynamoDB) RemoveEdge(from, to, edgeType string) error {
	_, err := db.svc.DeleteItem(db.ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(db.edgeTable),
		Key:                 edgeKey(from, to, edgeType),
		ConditionExpression: aws.String("attribute_exists(from_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("edge %s-%s (%s): %w", from, to, edgeType, graphreco.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to remove edge %s-%s: %w", from, to, err)
	}
	return nil
}

// RemoveEdges removes multiple edges; nothing is removed if any edge is missing
func (db *GraphDBDynamoDB) RemoveEdges(edges []graphreco.Edge) error {
	var batch uniqueRequests[edgeRef]
	for _, edge := range edges {
		if batch.has(refOf(edge)) {
			continue
		}
		key := edgeKey(edge.From, edge.To, edge.Type)
		result, err := db.svc.GetItem(db.ctx, &dynamodb.GetItemInput{
			TableName: aws.String(db.edgeTable),
			Key:       key,
		})
		if err != nil {
			return fmt.Errorf("failed to retrieve edge %s-%s: %w", edge.From, edge.To, err)
		}
		if result.Item == nil {
			return fmt.Errorf("edge %s-%s (%s): %w", edge.From, edge.To, edge.Type, graphreco.ErrNotFound)
		}
		batch.put(refOf(edge), types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}
	return db.batchWrite(db.edgeTable, batch.requests)
}

// OutEdges queries the edges leaving nodeID
func (db *GraphDBDynamoDB) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	paginator := dynamodb.NewQueryPaginator(db.svc, &dynamodb.QueryInput{
		TableName:              aws.String(db.edgeTable),
		KeyConditionExpression: aws.String("from_id = :from"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: nodeID},
		},
	})

	var edges []graphreco.Edge
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(db.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query edges of %s: %w", nodeID, err)
		}
		for _, item := range page.Items {
			edges = append(edges, edgeFromItem(item))
		}
	}
	return edges, nil
}

func (db *GraphDBDynamoDB) inEdges(nodeID string) ([]graphreco.Edge, error) {
	paginator := dynamodb.NewScanPaginator(db.svc, &dynamodb.ScanInput{
		TableName:        aws.String(db.edgeTable),
		FilterExpression: aws.String("to_id = :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":to": &types.AttributeValueMemberS{Value: nodeID},
		},
	})

	var edges []graphreco.Edge
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(db.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edges into %s: %w", nodeID, err)
		}
		for _, item := range page.Items {
			edges = append(edges, edgeFromItem(item))
		}
	}
	return edges, nil
}

// RandomNode draws a node uniformly by sampling a full table scan
func (db *GraphDBDynamoDB) RandomNode() (graphreco.Node, error) {
	return graphreco.SampleScan(db)
}

// ScanNodes visits every node in the node table
func (db *GraphDBDynamoDB) ScanNodes(fn func(graphreco.Node) bool) error {
	paginator := dynamodb.NewScanPaginator(db.svc, &dynamodb.ScanInput{
		TableName: aws.String(db.nodeTable),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(db.ctx)
		if err != nil {
			return fmt.Errorf("failed to scan nodes: %w", err)
		}
		for _, item := range page.Items {
			node, err := nodeFromItem(item)
			if err != nil {
				return err
			}
			if !fn(node) {
				return nil
			}
		}
	}
	return nil
}

func (db *GraphDBDynamoDB) batchWrite(table string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))
		pending := map[string][]types.WriteRequest{table: requests[start:end]}

		for round := 0; len(pending[table]) > 0; round++ {
			if round == maxBatchRounds {
				return fmt.Errorf("batch write to %s: %d items left unprocessed", table, len(pending[table]))
			}
			output, err := db.svc.BatchWriteItem(db.ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch write to %s: %w", table, err)
			}
			pending = output.UnprocessedItems
		}
	}
	return nil
}

// Close is a no-op; the AWS SDK manages its own connections
func (db *GraphDBDynamoDB) Close() error {
	return nil
}

// uniqueRequests collects write requests, keeping one per item key since BatchWriteItem
// rejects a call that names the same key twice.
type uniqueRequests[K comparable] struct {
	index    map[K]int
	requests []types.WriteRequest
}

// put adds r, replacing an earlier request for the same key.
func (u *uniqueRequests[K]) put(key K, r types.WriteRequest) {
	if i, ok := u.index[key]; ok {
		u.requests[i] = r
		return
	}
	if u.index == nil {
		u.index = make(map[K]int)
	}
	u.index[key] = len(u.requests)
	u.requests = append(u.requests, r)
}

func (u *uniqueRequests[K]) has(key K) bool {
	_, ok := u.index[key]
	return ok
}

// edgeRef identifies an edge item.
type edgeRef struct {
	from, to, edgeType string
}

func refOf(edge graphreco.Edge) edgeRef {
	return edgeRef{from: edge.From, to: edge.To, edgeType: edge.Type}
}

// edgeSortKey joins the target and type with '#'. Both parts are query-escaped, so
// neither contains the separator and distinct edges never share a key.
func edgeSortKey(to, edgeType string) string {
	return url.QueryEscape(to) + "#" + url.QueryEscape(edgeType)
}

func nodeKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func edgeKey(from, to, edgeType string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"from_id":  &types.AttributeValueMemberS{Value: from},
		"edge_key": &types.AttributeValueMemberS{Value: edgeSortKey(to, edgeType)},
	}
}

func nodeItem(node graphreco.Node) map[string]types.AttributeValue {
	item := nodeKey(node.ID)
	item["labels"] = stringList(node.Labels)
	item["data"] = stringMap(node.Data)
	return item
}

func edgeItem(edge graphreco.Edge) map[string]types.AttributeValue {
	item := edgeKey(edge.From, edge.To, edge.Type)
	item["to_id"] = &types.AttributeValueMemberS{Value: edge.To}
	item["type"] = &types.AttributeValueMemberS{Value: edge.Type}
	item["params"] = stringMap(edge.Params)
	return item
}

func nodeFromItem(item map[string]types.AttributeValue) (graphreco.Node, error) {
	id, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return graphreco.Node{}, errors.New("node item has no string id")
	}
	return graphreco.Node{
		ID:     id.Value,
		Labels: fromStringList(item["labels"]),
		Data:   fromStringMap(item["data"]),
	}, nil
}

func edgeFromItem(item map[string]types.AttributeValue) graphreco.Edge {
	return graphreco.Edge{
		From:   stringValue(item["from_id"]),
		To:     stringValue(item["to_id"]),
		Type:   stringValue(item["type"]),
		Params: fromStringMap(item["params"]),
	}
}

// stringMap converts a map of strings to a DynamoDB map attribute
func stringMap(input map[string]string) types.AttributeValue {
	avMap := make(map[string]types.AttributeValue, len(input))
	for k, v := range input {
		avMap[k] = &types.AttributeValueMemberS{Value: v}
	}
	return &types.AttributeValueMemberM{Value: avMap}
}

// stringList uses a list rather than a string set because sets may not be empty
func stringList(input []string) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(input))
	for _, v := range input {
		list = append(list, &types.AttributeValueMemberS{Value: v})
	}
	return &types.AttributeValueMemberL{Value: list}
}

func fromStringMap(av types.AttributeValue) map[string]string {
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok || len(m.Value) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		out[k] = stringValue(v)
	}
	return out
}

func fromStringList(av types.AttributeValue) []string {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok || len(l.Value) == 0 {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, v := range l.Value {
		out = append(out, stringValue(v))
	}
	return out
}

func stringValue(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
