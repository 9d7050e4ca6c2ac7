package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fgrzl/graphreco/internal/config"
	"github.com/fgrzl/graphreco/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config   string
	logLevel string
}

// cfg is loaded before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "graphreco",
	Short: "Random node recommendations over a graph store",
	Long: "graphreco loads graphs into SQLite, Pebble, Badger, Redis, DynamoDB or Azure Table\n" +
		"Storage and recommends nodes drawn at random under an inclusion policy.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: loadConfig,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", "", "Config file (default $GRAPHRECO_CONFIG or ./graphreco.yaml)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.config)
	if err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	cfg = c

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
