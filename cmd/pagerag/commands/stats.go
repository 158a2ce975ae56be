package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/audit"
	"github.com/54b3r/pagerag/internal/logging"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewStatsCmd constructs the `pagerag stats` command.
func NewStatsCmd() *cobra.Command {
	var pageID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the stored chunk statistics of a page",
		Long: `Print the number of chunks, their average length in characters, and
the estimated token total stored for one page.

Examples:
  pagerag stats --page 42`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if pageID == "" {
				return errors.New("stats: --page is required")
			}

			ix, err := buildIndex(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer ix.Close()

			st, err := ix.pipeline.Stats(ctx, pageID)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&pageID, "page", "", "Page ID (required)")

	return cmd
}

// NewDeleteCmd constructs the `pagerag delete` command.
func NewDeleteCmd() *cobra.Command {
	var pageID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every stored chunk of a page",
		Long: `Remove all embeddings of one page from the chunk store. Chat sessions
are kept.

Examples:
  pagerag delete --page 42`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if pageID == "" {
				return errors.New("delete: --page is required")
			}

			ix, err := buildIndex(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer ix.Close()

			err = ix.pipeline.DeletePageEmbeddings(ctx, pageID)
			audit.LogPageMutation(ctx, log, "delete", pageID, 0, err)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %s: embeddings deleted\n", pageID)
			return nil
		},
	}

	cmd.Flags().StringVar(&pageID, "page", "", "Page ID (required)")

	return cmd
}
