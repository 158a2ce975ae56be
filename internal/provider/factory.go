package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/pagerag/internal/config"
)

// ConfigFromEnv resolves provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each provider uses its own native
// credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini (default: ollama)
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:  OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini), OPENAI_BASE_URL
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:     ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Gemini:  GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-pro)
//
//	Shared:  MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0.2)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(config.String(string(BackendOllama), "MODEL_PROVIDER")),
		Ollama: ProviderOllama{
			Host:  config.String("http://localhost:11434", "OLLAMA_HOST"),
			Model: config.String("llama3", "OLLAMA_MODEL"),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  config.String("", "OPENAI_API_KEY"),
			Model:   config.String("gpt-4o-mini", "OPENAI_MODEL"),
			BaseURL: config.String("", "OPENAI_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     config.String("", "AZURE_OPENAI_API_KEY"),
			Endpoint:   config.String("", "AZURE_OPENAI_ENDPOINT"),
			Deployment: config.String("", "AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: config.String("2024-02-01", "AZURE_OPENAI_API_VERSION"),
		},
		Ark: ProviderArk{
			APIKey:  config.String("", "ARK_API_KEY"),
			Model:   config.String("", "ARK_MODEL"),
			BaseURL: config.String("", "ARK_BASE_URL"),
		},
		Gemini: ProviderGemini{
			APIKey: config.String("", "GOOGLE_API_KEY"),
			Model:  config.String("gemini-1.5-pro", "GEMINI_MODEL"),
		},
		Tuning: SharedTuning{
			MaxTokens:   config.Int("MODEL_MAX_TOKENS", 1024),
			Temperature: float32(config.Float("MODEL_TEMPERATURE", 0.2)),
		},
	}
}

// NewFromEnv constructs a chat model from environment variables.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	default:
		return newGemini(ctx, cfg)
	}
}
