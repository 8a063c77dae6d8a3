// Package main provides the search-agent CLI: the stream consumer that keeps
// the arXiv search index current, plus administrative commands.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/search-agent/internal/config"
	"github.com/helixir/search-agent/internal/observability"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().Execute()
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "search-agent",
		Short:         "Indexes arXiv paper metadata into the search engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(observability.LoggingConfig{
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
				Output:     cfg.Logging.Output,
				AddSource:  cfg.Logging.AddSource,
				TimeFormat: cfg.Logging.TimeFormat,
			})
			if cfg.Metrics.Enabled {
				a.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
			}
			return nil
		},
	}

	rootCmd.AddCommand(streamCmd(a))
	rootCmd.AddCommand(reindexCmd(a))
	rootCmd.AddCommand(createIndexCmd(a))
	rootCmd.AddCommand(migrateCmd(a))

	return rootCmd
}
