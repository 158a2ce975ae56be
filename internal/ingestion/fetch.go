package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/54b3r/pagerag/internal/errs"
)

// maxFetchBytes caps a downloaded attachment.
const maxFetchBytes = 64 << 20

// Fetcher downloads page attachments referenced by URL.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher returns a Fetcher with the given per-request timeout
// (default 30s).
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "pagerag/1.0 (page attachment ingestion)",
	}
}

// Fetched is a downloaded attachment.
type Fetched struct {
	Body []byte
	// FileType is inferred from the URL, falling back to the Content-Type header.
	FileType string
}

// Fetch downloads rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	const op = "ingestion.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Configuration(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.ProviderRequest(op, 0, fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.ProviderRequest(op, resp.StatusCode, fmt.Errorf("unexpected status for %s", rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, errs.ProviderRequest(op, 0, fmt.Errorf("reading body: %w", err))
	}
	if len(body) > maxFetchBytes {
		return nil, errs.MalformedResponse(op, fmt.Errorf("%s exceeds %d bytes", rawURL, maxFetchBytes))
	}

	ft := InferFileType(rawURL)
	if ft == "" {
		ft = InferFileTypeFromMIME(resp.Header.Get("Content-Type"))
	}
	return &Fetched{Body: body, FileType: ft}, nil
}
