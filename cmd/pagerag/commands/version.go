package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/version"
)

// NewVersionCmd constructs the `pagerag version` command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pagerag version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
