// Package commands defines all Cobra CLI commands for the pagerag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/audit"
	"github.com/54b3r/pagerag/internal/config"
	"github.com/54b3r/pagerag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagerag",
		Short: "Page-scoped question answering for learning pages",
		Long: `pagerag turns the content of a learning page (authored text and an
attached PDF, PPTX, DOCX, HTML, or Markdown file) into embedded chunks and
answers learners' questions from those chunks only.

Each page is indexed and queried in isolation. Questions asked by a signed-in
user or a guest are recorded in a per-page chat session.

Model, embedding, and chunk store backends are selected via environment
variables or a YAML config file (~/.pagerag/config.yaml).
See 'pagerag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv(log); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.pagerag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewStatsCmd(),
		NewDeleteCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
