package embedder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/pagerag/internal/config"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/metrics"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// DefaultDimensions returns the embedding vector size for the given backend.
// Chunk stores that must be created with a fixed vector size use this rather
// than hardcoding a value. EMBEDDING_DIMENSIONS always takes precedence.
func DefaultDimensions(backend string) int {
	if v := config.Int("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// ResolveBackend returns the effective embedding backend:
// EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama.
func ResolveBackend() string {
	return config.String("ollama", "EMBEDDING_PROVIDER", "MODEL_PROVIDER")
}

// ConfigFromEnv reads the retry and batch policy from the environment.
func ConfigFromEnv(backend string) Config {
	return Config{
		MaxRetries:    config.Int("EMBEDDING_MAX_RETRIES", DefaultMaxRetries),
		RetryDelay:    config.Millis("EMBEDDING_RETRY_DELAY_MS", DefaultRetryDelay),
		BatchSize:     config.Int("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
		BatchDelay:    config.Millis("EMBEDDING_BATCH_DELAY_MS", DefaultBatchDelay),
		MaxInputChars: config.Int("EMBEDDING_MAX_INPUT_CHARS", DefaultMaxInputChars),
		Dimensions:    DefaultDimensions(backend),
	}
}

// NewFromEnv constructs a Client using cascading defaults that inherit from
// the chat provider configuration when embedding-specific overrides are not
// set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: if unset, inherits MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY: overrides the inherited API key
//  5. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS: overrides the default dimensions (ollama: 768, openai/azure: 1536)
func NewFromEnv(log *slog.Logger, rec *metrics.Recorder) (*Client, error) {
	backend := ResolveBackend()
	cfg := ConfigFromEnv(backend)

	var req Requester
	switch backend {
	case "ollama":
		req = NewOllamaRequester(&OllamaConfig{
			Host:  config.String("http://localhost:11434", "EMBEDDING_ENDPOINT", "OLLAMA_HOST"),
			Model: config.String(defaultOllamaModel, "EMBEDDING_MODEL"),
		})

	case "openai":
		r, err := NewOpenAIRequester(&OpenAIConfig{
			BaseURL:    config.String("https://api.openai.com/v1", "EMBEDDING_ENDPOINT", "OPENAI_BASE_URL"),
			APIKey:     config.String("", "EMBEDDING_API_KEY", "OPENAI_API_KEY"),
			Model:      config.String(defaultOpenAIModel, "EMBEDDING_MODEL"),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
		})
		if err != nil {
			return nil, err
		}
		req = r

	case "azure":
		endpoint := config.String("", "EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, errs.Configuration("embedder.azure", errors.New("set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT"))
		}
		r, err := NewOpenAIRequester(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     config.String("", "EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"),
			Model:      config.String(defaultOpenAIModel, "EMBEDDING_MODEL"),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: config.String("2025-04-01-preview", "AZURE_OPENAI_API_VERSION"),
		})
		if err != nil {
			return nil, err
		}
		req = r

	default:
		return nil, errs.Configuration("embedder", fmt.Errorf("unknown backend %q; valid values: ollama, openai, azure", backend))
	}

	if log == nil {
		log = slog.Default()
	}
	warnIfChatModel(log, config.String("", "EMBEDDING_MODEL"))

	return New(req, cfg, log, rec), nil
}
