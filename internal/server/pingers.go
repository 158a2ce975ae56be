package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/54b3r/pagerag/internal/provider"
)

// HTTPPinger probes a dependency by issuing a GET against a cheap endpoint
// (e.g. Ollama's /api/tags). Any status below 500 counts as reachable, so
// endpoints that answer 401/404 without credentials still report up. No
// tokens are consumed.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// url is the endpoint probed.
	url string
	// client performs the probe.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{name: name, url: url, client: &http.Client{Timeout: probeTimeout}}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the probe request.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewProviderPinger returns a token-free probe for the chat model backend,
// or nil when the backend offers no cheap health endpoint.
func NewProviderPinger(cfg *provider.Config) Pinger {
	switch cfg.Backend {
	case provider.BackendOllama:
		return NewHTTPPinger("llm", strings.TrimRight(cfg.Ollama.Host, "/")+"/api/tags")
	case provider.BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return NewHTTPPinger("llm", strings.TrimRight(base, "/")+"/models")
	case provider.BackendAzure:
		return NewHTTPPinger("llm", strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/"))
	default:
		return nil
	}
}
