package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/session"
)

// NewHistoryCmd constructs the `pagerag history` command, which prints the
// messages of a chat session.
func NewHistoryCmd() *cobra.Command {
	var sessionID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages of a chat session",
		Long: `Print the newest messages of a chat session, oldest first, as JSON.

Examples:
  pagerag history --session 6f1c2d0e-6d0b-4d39-9d4e-2f0f3f1b7a55
  pagerag history --session 6f1c2d0e-6d0b-4d39-9d4e-2f0f3f1b7a55 --limit 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if sessionID == "" {
				return errors.New("history: --session is required")
			}

			store := openSessions(log)
			if store == nil {
				return errors.New("history: session store is unavailable")
			}
			defer func() { _ = store.Close() }()

			msgs, err := store.History(ctx, sessionID, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if msgs == nil {
				msgs = []session.Message{}
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	cmd.Flags().IntVar(&limit, "limit", session.DefaultHistoryLimit, "Maximum number of messages")

	return cmd
}
