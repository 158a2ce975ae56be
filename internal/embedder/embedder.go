// Package embedder turns text into dense vectors through an external
// embedding provider. A [Client] wraps a provider-specific [Requester] with
// input preprocessing, bounded linear-backoff retries, and paced batch
// concurrency. Requesters talk to their backends (OpenAI, Azure OpenAI,
// Ollama) over plain HTTP.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/pagerag/internal/chunker"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/metrics"
)

// Defaults for [Config].
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
	DefaultBatchSize     = 5
	DefaultBatchDelay    = 500 * time.Millisecond
	DefaultMaxInputChars = 8000
)

// ErrEmptyInput is returned when the text is empty after preprocessing.
var ErrEmptyInput = errors.New("embedder: empty input")

// Requester sends a single input to an embedding provider. Implementations
// classify failures with the errs taxonomy so the Client can decide whether
// to retry.
type Requester interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Backend names the provider for logs and metrics.
	Backend() string
}

// ProviderError is returned once every retry attempt has failed. Err is the
// last cause.
type ProviderError struct {
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedder: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config controls retry, batching, and preprocessing.
type Config struct {
	// MaxRetries is the total number of attempts per input.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between attempts.
	RetryDelay time.Duration
	// BatchSize bounds the number of concurrent provider calls.
	BatchSize int
	// BatchDelay is the pause between consecutive batches.
	BatchDelay time.Duration
	// MaxInputChars truncates each input before it is sent.
	MaxInputChars int
	// Dimensions is the expected vector length. Zero disables the check.
	Dimensions int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = DefaultMaxInputChars
	}
	return c
}

// DefaultConfig returns the production retry and batch policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		BatchSize:     DefaultBatchSize,
		BatchDelay:    DefaultBatchDelay,
		MaxInputChars: DefaultMaxInputChars,
	}
}

// Client embeds text through a Requester. It is safe for concurrent use and
// satisfies rag.QueryEmbedder and rag.BatchEmbedder.
type Client struct {
	req     Requester
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a Client. rec may be nil.
func New(req Requester, cfg Config, log *slog.Logger, rec *metrics.Recorder) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{req: req, cfg: cfg.withDefaults(), log: log, metrics: rec}
}

// Backend returns the name of the underlying provider.
func (c *Client) Backend() string { return c.req.Backend() }

// Dimensions returns the expected vector length, or zero if unknown.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Embed preprocesses text and embeds it, retrying provider and malformed
// response failures up to MaxRetries times with a RetryDelay×attempt pause.
// Configuration errors and context cancellation are returned immediately.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	input := chunker.Preprocess(text, c.cfg.MaxInputChars)
	if input == "" {
		return nil, ErrEmptyInput
	}

	backend := c.req.Backend()
	for attempt := 1; ; attempt++ {
		start := time.Now()
		vec, err := c.req.Embed(ctx, input)
		if err == nil {
			c.metrics.EmbedRequest(backend, metrics.OutcomeOK, time.Since(start))
			return vec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embedder: %w", ctxErr)
		}
		if !errs.Retryable(err) {
			c.metrics.EmbedRequest(backend, metrics.OutcomeError, time.Since(start))
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			c.metrics.EmbedRequest(backend, metrics.OutcomeError, time.Since(start))
			return nil, &ProviderError{Attempts: attempt, Err: err}
		}

		c.metrics.EmbedRequest(backend, metrics.OutcomeRetry, time.Since(start))
		delay := c.cfg.RetryDelay * time.Duration(attempt)
		c.log.Warn("embedder: request failed, retrying",
			slog.String("backend", backend),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
	}
}

// EmbedQuery embeds a user query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.Embed(ctx, text)
}

// EmbedBatch embeds texts in groups of BatchSize. Calls within a group run
// concurrently; groups run sequentially with BatchDelay between them. The
// first failure cancels the rest of its group and aborts the call. The result
// is parallel to texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		if start > 0 {
			if err := sleep(ctx, c.cfg.BatchDelay); err != nil {
				return nil, fmt.Errorf("embedder: %w", err)
			}
		}
		end := min(start+c.cfg.BatchSize, len(texts))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.Embed(gctx, texts[i])
				if err != nil {
					return fmt.Errorf("embedder: batch item %d: %w", i, err)
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
