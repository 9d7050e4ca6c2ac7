package redis

import (
	"errors"
	"fmt"

	"github.com/fgrzl/graphreco"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/context"
)

const nodeSetKey = "nodes"

type redisGraph struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisGraph(address string) (graphreco.GraphDB, error) {
	return NewRedisGraphWithOptions(&redis.Options{
		Addr: address,
	})
}

func NewRedisGraphWithOptions(opts *redis.Options) (graphreco.GraphDB, error) {
	client := redis.NewClient(opts)
	ctx := context.Background()

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisGraph{
		client: client,
		ctx:    ctx,
	}, nil
}

func nodeFields(node graphreco.Node) ([]any, error) {
	labels, err := graphreco.EncodeStrings(node.Labels)
	if err != nil {
		return nil, err
	}
	data, err := graphreco.EncodeStrings(node.Data)
	if err != nil {
		return nil, err
	}
	return []any{"labels", labels, "data", data}, nil
}

func (db *redisGraph) PutNode(id string, node graphreco.Node) error {
	node.ID = id
	return db.PutNodes([]graphreco.Node{node})
}

func (db *redisGraph) PutNodes(nodes []graphreco.Node) error {
	pipe := db.client.TxPipeline()
	for _, node := range nodes {
		fields, err := nodeFields(node)
		if err != nil {
			return fmt.Errorf("could not encode node %s: %w", node.ID, err)
		}
		pipe.HSet(db.ctx, getNodeKey(node.ID), fields...)
		pipe.SAdd(db.ctx, nodeSetKey, node.ID)
	}
	_, err := pipe.Exec(db.ctx)
	return err
}

func (db *redisGraph) GetNode(id string) (graphreco.Node, error) {
	fields, err := db.client.HGetAll(db.ctx, getNodeKey(id)).Result()
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to retrieve node %s: %w", id, err)
	}
	if len(fields) == 0 {
		return graphreco.Node{}, fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}

	node := graphreco.Node{ID: id}
	if err := graphreco.DecodeStrings(fields["labels"], &node.Labels); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode labels of node %s: %w", id, err)
	}
	if err := graphreco.DecodeStrings(fields["data"], &node.Data); err != nil {
		return graphreco.Node{}, fmt.Errorf("could not decode data of node %s: %w", id, err)
	}
	return node, nil
}

// RemoveNode removes a node and every edge that starts or ends at it
func (db *redisGraph) RemoveNode(id string) error {
	nodeKey := getNodeKey(id)
	exists, err := db.client.Exists(db.ctx, nodeKey).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("node %s: %w", id, graphreco.ErrNotFound)
	}

	outKeys, err := db.client.SMembers(db.ctx, getEdgeSetKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to retrieve edges for node %s: %w", id, err)
	}
	inKeys, err := db.client.SMembers(db.ctx, getInEdgeSetKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to retrieve edges for node %s: %w", id, err)
	}

	pipe := db.client.TxPipeline()
	pipe.Del(db.ctx, nodeKey)
	pipe.SRem(db.ctx, nodeSetKey, id)
	pipe.Del(db.ctx, getEdgeSetKey(id), getInEdgeSetKey(id))

	for _, edgeKey := range append(outKeys, inKeys...) {
		edge, err := db.readEdge(edgeKey)
		if errors.Is(err, graphreco.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		pipe.Del(db.ctx, edgeKey)
		pipe.SRem(db.ctx, getEdgeSetKey(edge.From), edgeKey)
		pipe.SRem(db.ctx, getInEdgeSetKey(edge.To), edgeKey)
	}

	_, err = pipe.Exec(db.ctx)
	return err
}

func (db *redisGraph) PutEdge(fromID, toID, edgeType string, params map[string]string) error {
	return db.PutEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType, Params: params}})
}

func (db *redisGraph) PutEdges(edges []graphreco.Edge) error {
	pipe := db.client.TxPipeline()
	for _, edge := range edges {
		edgeDataKey := getEdgeDataKey(edge.From, edge.To, edge.Type)
		params, err := graphreco.EncodeStrings(edge.Params)
		if err != nil {
			return fmt.Errorf("could not encode params of edge %s->%s: %w", edge.From, edge.To, err)
		}

		pipe.SAdd(db.ctx, getEdgeSetKey(edge.From), edgeDataKey)
		pipe.SAdd(db.ctx, getInEdgeSetKey(edge.To), edgeDataKey)
		pipe.HSet(db.ctx, edgeDataKey, "from", edge.From, "to", edge.To, "type", edge.Type, "params", params)
	}
	_, err := pipe.Exec(db.ctx)
	return err
}

func (db *redisGraph) RemoveEdge(fromID, toID, edgeType string) error {
	return db.RemoveEdges([]graphreco.Edge{{From: fromID, To: toID, Type: edgeType}})
}

// RemoveEdges removes multiple edges; nothing is removed if any edge is missing
func (db *redisGraph) RemoveEdges(edges []graphreco.Edge) error {
	pipe := db.client.TxPipeline()
	for _, edge := range edges {
		edgeDataKey := getEdgeDataKey(edge.From, edge.To, edge.Type)
		exists, err := db.client.Exists(db.ctx, edgeDataKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("edge %s-%s (%s): %w", edge.From, edge.To, edge.Type, graphreco.ErrNotFound)
		}

		pipe.SRem(db.ctx, getEdgeSetKey(edge.From), edgeDataKey)
		pipe.SRem(db.ctx, getInEdgeSetKey(edge.To), edgeDataKey)
		pipe.Del(db.ctx, edgeDataKey)
	}
	_, err := pipe.Exec(db.ctx)
	return err
}

func (db *redisGraph) OutEdges(nodeID string) ([]graphreco.Edge, error) {
	edgeKeys, err := db.client.SMembers(db.ctx, getEdgeSetKey(nodeID)).Result()
	if err != nil {
		return nil, err
	}

	edges := make([]graphreco.Edge, 0, len(edgeKeys))
	for _, edgeKey := range edgeKeys {
		edge, err := db.readEdge(edgeKey)
		if errors.Is(err, graphreco.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (db *redisGraph) readEdge(edgeKey string) (graphreco.Edge, error) {
	fields, err := db.client.HGetAll(db.ctx, edgeKey).Result()
	if err != nil {
		return graphreco.Edge{}, err
	}
	if len(fields) == 0 {
		return graphreco.Edge{}, fmt.Errorf("edge %s: %w", edgeKey, graphreco.ErrNotFound)
	}

	edge := graphreco.Edge{From: fields["from"], To: fields["to"], Type: fields["type"]}
	if err := graphreco.DecodeStrings(fields["params"], &edge.Params); err != nil {
		return graphreco.Edge{}, fmt.Errorf("could not decode params of %s: %w", edgeKey, err)
	}
	return edge, nil
}

// RandomNode draws a node uniformly from the node index set
func (db *redisGraph) RandomNode() (graphreco.Node, error) {
	id, err := db.client.SRandMember(db.ctx, nodeSetKey).Result()
	if err == redis.Nil {
		return graphreco.Node{}, graphreco.ErrNoNodes
	}
	if err != nil {
		return graphreco.Node{}, fmt.Errorf("failed to draw a random node: %w", err)
	}
	return db.GetNode(id)
}

func (db *redisGraph) ScanNodes(fn func(graphreco.Node) bool) error {
	iter := db.client.SScan(db.ctx, nodeSetKey, 0, "", 100).Iterator()
	for iter.Next(db.ctx) {
		node, err := db.GetNode(iter.Val())
		if errors.Is(err, graphreco.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(node) {
			return nil
		}
	}
	return iter.Err()
}

func (db *redisGraph) Close() error {
	return db.client.Close()
}

func getNodeKey(nodeID string) string {
	return "node:" + nodeID
}

func getEdgeSetKey(nodeID string) string {
	return "edges:" + nodeID
}

func getInEdgeSetKey(nodeID string) string {
	return "in:" + nodeID
}

func getEdgeDataKey(fromID, toID, edgeType string) string {
	return fmt.Sprintf("edge:%s:%s:%s", fromID, toID, edgeType)
}
