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

// maxErrorBody bounds how much of a failed response body is kept for the
// error message.
const maxErrorBody = 4 << 10

// OpenAIRequester implements Requester against the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIRequester struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name, or the deployment name on Azure.
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// azure selects Azure-style auth (api-key header) over Bearer token.
	azure bool
	// apiVersion is the Azure OpenAI API version query param (ignored for OpenAI).
	apiVersion string
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIRequester.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key. Required.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	APIVersion string
	// Timeout bounds a single request (default 30s).
	Timeout time.Duration
}

// NewOpenAIRequester constructs an OpenAIRequester. A missing API key is a
// configuration error.
func NewOpenAIRequester(cfg *OpenAIConfig) (*OpenAIRequester, error) {
	if cfg.APIKey == "" {
		return nil, errs.Configuration("embedder.openai", errors.New("API key is not set"))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIRequester{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Backend implements Requester.
func (e *OpenAIRequester) Backend() string {
	if e.azure {
		return "azure"
	}
	return "openai"
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements Requester.
func (e *OpenAIRequester) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedder.openai"
	if e.apiKey == "" {
		return nil, errs.Configuration(op, errors.New("API key is not set"))
	}

	payload, err := json.Marshal(openaiEmbedRequest{
		Input:      text,
		Model:      e.model,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	url := e.baseURL + "/embeddings"
	if e.azure {
		url = e.baseURL + "/deployments/" + e.model + "/embeddings?api-version=" + e.apiVersion
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.azure {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.ProviderRequest(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.ProviderRequest(op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	var result openaiEmbedResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(truncate(body, maxErrorBody))
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return nil, errs.ProviderRequest(op, resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, errs.MalformedResponse(op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, errs.MalformedResponse(op, errors.New("response has no data[0].embedding"))
	}
	return result.Data[0].Embedding, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
