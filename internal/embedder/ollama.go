package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/54b3r/pagerag/internal/errs"
)

// OllamaRequester implements Requester using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required.
type OllamaRequester struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model  string
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaRequester.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds a single request (default 60s).
	Timeout time.Duration
}

// NewOllamaRequester constructs an OllamaRequester from the given config.
func NewOllamaRequester(cfg *OllamaConfig) *OllamaRequester {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaRequester{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
}

// Backend implements Requester.
func (e *OllamaRequester) Backend() string { return "ollama" }

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed implements Requester.
func (e *OllamaRequester) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedder.ollama"

	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.ProviderRequest(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.ProviderRequest(op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	var result ollamaEmbedResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(truncate(body, maxErrorBody))
		if decodeErr == nil && result.Error != "" {
			msg = result.Error
		}
		return nil, errs.ProviderRequest(op, resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, errs.MalformedResponse(op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, errs.MalformedResponse(op, errors.New("response has no embeddings[0]"))
	}
	return result.Embeddings[0], nil
}
