package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/search-agent/internal/index"
)

func createIndexCmd(a *app) *cobra.Command {
	var printMapping bool

	cmd := &cobra.Command{
		Use:   "create-index",
		Short: "Create the search index with the paper document mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printMapping {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(index.Mapping()))
				return err
			}

			client, err := a.indexClient()
			if err != nil {
				return err
			}
			if err := client.CreateIndex(cmd.Context()); err != nil {
				return fmt.Errorf("create index %s: %w", a.cfg.Index.Name, err)
			}
			a.logger.Info().Str("index", a.cfg.Index.Name).Msg("index ready")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printMapping, "print-mapping", false, "Print the index mapping and exit")

	return cmd
}
