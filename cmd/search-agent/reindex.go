package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/search-agent/internal/domain"
)

func reindexCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "reindex [paper-id...]",
		Short: "Rebuild the index documents of the given papers",
		Long: "Rebuild every version of the given papers in the search index. " +
			"IDs come from arguments and, with --file, one per line from a file (- for stdin). " +
			"Papers that fail permanently are reported and skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readPaperIDs(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no paper ids given")
			}

			paperIDs := make([]string, 0, len(ids))
			for _, raw := range ids {
				paperID, err := domain.NormalizePaperID(raw)
				if err != nil {
					return err
				}
				paperIDs = append(paperIDs, paperID)
			}

			processor, _, err := a.processor(nil)
			if err != nil {
				return err
			}

			report, runErr := processor.IndexPapers(cmd.Context(), paperIDs)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("reindex aborted: %w", runErr)
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d papers failed", len(report.Failed), len(paperIDs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read paper ids from a file, one per line (- for stdin)")

	return cmd
}

// readPaperIDs reads one id per line, skipping blanks and # comments.
func readPaperIDs(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open id file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}
	return ids, nil
}
