// Package backend opens the graph store selected in the configuration.
package backend

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/badger"
	"github.com/fgrzl/graphreco/dynamodb"
	"github.com/fgrzl/graphreco/internal/config"
	"github.com/fgrzl/graphreco/pebble"
	"github.com/fgrzl/graphreco/redis"
	"github.com/fgrzl/graphreco/sqlite"
	"github.com/fgrzl/graphreco/tablestorage"
)

// Open connects to the backend named by cfg.Backend. The caller closes the graph.
func Open(ctx context.Context, cfg *config.Config) (graphreco.GraphDB, error) {
	var (
		db  graphreco.GraphDB
		err error
	)
	switch cfg.Backend {
	case "sqlite":
		db, err = sqlite.NewGraphDBSQLite(cfg.SQLite.Path)
	case "pebble":
		db, err = pebble.NewGraphDBPebble(cfg.Pebble.Path)
	case "badger":
		if cfg.Badger.InMemory {
			db, err = badger.NewGraphDBBadgerInMemory()
		} else {
			db, err = badger.NewGraphDBBadger(cfg.Badger.Path)
		}
	case "redis":
		db, err = redis.NewRedisGraphWithOptions(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "dynamodb":
		db, err = dynamodb.NewGraphDBDynamoDBFromConfig(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint,
			cfg.DynamoDB.NodeTable, cfg.DynamoDB.EdgeTable)
	case "tablestorage":
		db, err = tablestorage.NewAzureTableGraph(cfg.TableStorage.ConnectionString, cfg.TableStorage.Table)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	return db, nil
}
