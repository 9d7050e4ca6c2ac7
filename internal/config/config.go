// Package config loads graphreco settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults
//  2. an optional YAML file (the --config flag, GRAPHRECO_CONFIG, or graphreco.yaml in the
//     working directory)
//  3. environment variables prefixed with GRAPHRECO_, where a double underscore separates
//     nested keys: GRAPHRECO_ENGINE__LIMIT=20, GRAPHRECO_SQLITE__PATH=/var/lib/graph.db
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "GRAPHRECO_"

	// PathEnvVar names the config file when no path is passed to Load.
	PathEnvVar = EnvPrefix + "CONFIG"
)

// DefaultPaths are tried in order when no config file is named.
var DefaultPaths = []string{"graphreco.yaml", "graphreco.yml"}

type Config struct {
	Backend      string             `koanf:"backend" validate:"oneof=sqlite pebble badger redis dynamodb tablestorage"`
	SQLite       SQLiteConfig       `koanf:"sqlite"`
	Pebble       PebbleConfig       `koanf:"pebble"`
	Badger       BadgerConfig       `koanf:"badger"`
	Redis        RedisConfig        `koanf:"redis"`
	DynamoDB     DynamoDBConfig     `koanf:"dynamodb"`
	TableStorage TableStorageConfig `koanf:"tablestorage"`
	Engine       EngineConfig       `koanf:"engine"`
	Log          LogConfig          `koanf:"log"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type PebbleConfig struct {
	Path string `koanf:"path"`
}

type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

type DynamoDBConfig struct {
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint" validate:"omitempty,url"`
	NodeTable string `koanf:"node_table"`
	EdgeTable string `koanf:"edge_table"`
}

type TableStorageConfig struct {
	ConnectionString string `koanf:"connection_string"`
	Table            string `koanf:"table" validate:"omitempty,alphanum"`
}

// EngineConfig configures the random recommendation engine.
type EngineConfig struct {
	Name string `koanf:"name" validate:"required"`
	// Limit is the default number of recommendations per input.
	Limit int `koanf:"limit" validate:"min=0"`
	// AttemptsPerResult sets the attempt budget to Limit times this value.
	AttemptsPerResult int `koanf:"attempts_per_result" validate:"min=1"`
	// Policy is an optional expression nodes must satisfy.
	Policy string `koanf:"policy"`
	// PolicyKey names an input node data field holding an extra expression recommended
	// nodes must satisfy for that input.
	PolicyKey string `koanf:"policy_key"`
	// Labels restricts recommendations to nodes carrying one of them.
	Labels []string `koanf:"labels"`
	// ScoreKey names the node data field holding a score; empty scores every node 1.
	ScoreKey string `koanf:"score_key"`
	// SelectorDraws is the number of random draws made before a full scan.
	SelectorDraws int `koanf:"selector_draws" validate:"min=0"`
	// PolicyCacheSize bounds the number of compiled policy expressions kept.
	PolicyCacheSize int `koanf:"policy_cache_size" validate:"min=1"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in settings: a local SQLite graph and ten results per input.
func Default() *Config {
	return &Config{
		Backend:      "sqlite",
		SQLite:       SQLiteConfig{Path: "graph.db"},
		Pebble:       PebbleConfig{Path: "graph.pebble"},
		Badger:       BadgerConfig{Path: "graph.badger"},
		Redis:        RedisConfig{Addr: "localhost:6379"},
		DynamoDB:     DynamoDBConfig{NodeTable: "graph_nodes", EdgeTable: "graph_edges"},
		TableStorage: TableStorageConfig{Table: "graph"},
		Engine: EngineConfig{
			Name:              "random",
			Limit:             10,
			AttemptsPerResult: 10,
			SelectorDraws:     100,
			PolicyCacheSize:   64,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the settings. An empty path falls back to GRAPHRECO_CONFIG and then to
// DefaultPaths; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitList(k, "engine.labels"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps GRAPHRECO_ENGINE__SCORE_KEY to engine.score_key. The config file
// variable itself is not a setting.
func envTransformFunc(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// splitList turns a comma separated string, as set from the environment, into a list.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}

	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if err := k.Set(path, items); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the selected backend is fully configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Backend {
	case "sqlite":
		return requireSetting("sqlite.path", c.SQLite.Path)
	case "pebble":
		return requireSetting("pebble.path", c.Pebble.Path)
	case "badger":
		if c.Badger.InMemory {
			return nil
		}
		return requireSetting("badger.path", c.Badger.Path)
	case "redis":
		return requireSetting("redis.addr", c.Redis.Addr)
	case "dynamodb":
		return errors.Join(
			requireSetting("dynamodb.node_table", c.DynamoDB.NodeTable),
			requireSetting("dynamodb.edge_table", c.DynamoDB.EdgeTable),
		)
	case "tablestorage":
		return errors.Join(
			requireSetting("tablestorage.connection_string", c.TableStorage.ConnectionString),
			requireSetting("tablestorage.table", c.TableStorage.Table),
		)
	}
	return nil
}

func requireSetting(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required for the %s backend", key, strings.SplitN(key, ".", 2)[0])
	}
	return nil
}
