package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/agent"
	"github.com/54b3r/pagerag/internal/logging"
)

// NewAskCmd constructs the `pagerag ask` command, which answers one question
// from the chunks of one page.
func NewAskCmd() *cobra.Command {
	var pageID, userID, guestID string
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a page",
		Long: `Answer a question using only the stored chunks of one page.

With --user or --guest the question and answer are recorded in that
learner's chat session for the page; the session ID is printed.

Examples:
  pagerag ask --page 42 "what is a closure?"
  pagerag ask --page 42 --guest g-123 "summarise the second section"
  pagerag ask --page 42 --top-k 8 --json "which examples are given?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if pageID == "" {
				return errors.New("ask: --page is required")
			}
			if userID != "" && guestID != "" {
				return errors.New("ask: --user and --guest are mutually exclusive")
			}

			ix, err := buildIndex(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer ix.Close()

			pa, _, _, err := buildAgent(ctx, ix)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			resp, err := pa.Ask(ctx, agent.AskRequest{
				PageID:  pageID,
				Query:   strings.Join(args, " "),
				UserID:  userID,
				GuestID: guestID,
				TopK:    topK,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Answer.Answer)
			fmt.Fprintf(out, "\nconfidence: %.2f\n", resp.Confidence)
			if len(resp.Sources) > 0 {
				fmt.Fprintf(out, "sources:    %s\n", strings.Join(resp.Sources, ", "))
			}
			if resp.SessionID != "" {
				fmt.Fprintf(out, "session:    %s\n", resp.SessionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pageID, "page", "", "Page ID (required)")
	cmd.Flags().StringVar(&userID, "user", "", "Signed-in learner ID; records the turn in their session")
	cmd.Flags().StringVar(&guestID, "guest", "", "Guest ID; records the turn in the guest's session")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (default: RAG_TOP_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON")

	return cmd
}
