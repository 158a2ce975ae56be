package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/config"
	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/server"
	"github.com/54b3r/pagerag/internal/tracing"
)

// NewServeCmd constructs the `pagerag serve` command, which starts the HTTP
// API used by the portal backend.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pagerag HTTP API",
		Long: `Start the pagerag HTTP API.

The server exposes page embedding generation, deletion and stats, page
questions, session history, health and readiness probes, and Prometheus
metrics on /metrics. Set PAGERAG_API_KEY to require a Bearer token on /api
routes other than health and readiness.

Examples:
  pagerag serve
  pagerag serve --port 9090
  CHUNK_STORE=qdrant MODEL_PROVIDER=openai pagerag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, _ := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			ix, err := buildIndex(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer ix.Close()

			pa, providerCfg, sessions, err := buildAgent(ctx, ix)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = config.String(host, "PAGERAG_HOST")
			}
			if !cmd.Flags().Changed("port") {
				port = config.Int("PAGERAG_PORT", port)
			}

			srv, err := server.New(pa, ix.pipeline, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: buildPingers(ix, providerCfg, sessions),
				APIKey:  config.String("", "PAGERAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("store", ix.store.Name()),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: PAGERAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: PAGERAG_PORT)")

	return cmd
}
