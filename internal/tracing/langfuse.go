// Package tracing sends generation traces to Langfuse through eino's global
// callback handlers. Tracing is opt-in: it is enabled only when both
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set.
package tracing

import (
	"log/slog"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/pagerag/internal/config"
)

// Config holds Langfuse credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST (default http://localhost:3000),
// LANGFUSE_PUBLIC_KEY, and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      config.String("http://localhost:3000", "LANGFUSE_HOST"),
		PublicKey: config.String("", "LANGFUSE_PUBLIC_KEY"),
		SecretKey: config.String("", "LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup registers the Langfuse handler globally so every chat model call is
// traced. The returned flush func must be called before process exit; it is
// a no-op when tracing is disabled.
func Setup(cfg Config, log *slog.Logger) (flush func(), enabled bool) {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Enabled() {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}, false
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("host", cfg.Host))
	return flusher, true
}
