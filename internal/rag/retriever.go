package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/54b3r/pagerag/internal/metrics"
)

// Retrieval defaults.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultTopK                = 5
)

// RetrieverConfig holds the retrieval cut-offs.
type RetrieverConfig struct {
	// SimilarityThreshold is the exclusive lower bound on similarity.
	SimilarityThreshold float64
	// TopK is used when a call passes topK <= 0.
	TopK int
}

// Retriever finds the chunks of one page that are relevant to a query.
// Vector search is the primary strategy; if it fails, a lexical term-overlap
// scan over the page's stored chunks is used instead and its results are
// flagged as degraded.
type Retriever struct {
	store   ChunkStore
	cfg     RetrieverConfig
	log     *slog.Logger
	metrics *metrics.Recorder
}

// NewRetriever constructs a Retriever. A zero TopK defaults to 5; a negative
// SimilarityThreshold defaults to 0.7. rec may be nil.
func NewRetriever(store ChunkStore, cfg RetrieverConfig, log *slog.Logger, rec *metrics.Recorder) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SimilarityThreshold < 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: store, cfg: cfg, log: log, metrics: rec}
}

// Retrieve returns up to topK chunks of pageID whose similarity to the query
// exceeds the threshold, best first. An empty result is not an error.
//
// The lexical fallback runs only when vector search returns an error, never
// when it legitimately finds nothing. If the fallback lookup also fails, both
// errors are returned.
func (r *Retriever) Retrieve(ctx context.Context, pageID, query string, queryEmbedding []float32, topK int) (*Retrieval, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	hits, err := r.store.Search(ctx, pageID, queryEmbedding, r.cfg.SimilarityThreshold, topK)
	if err == nil {
		r.metrics.Retrieval(string(StrategyVector), len(hits))
		return &Retrieval{Chunks: hits, Strategy: StrategyVector}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("rag: retrieve page %s: %w", pageID, ctxErr)
	}

	r.log.Warn("rag: vector search failed, falling back to lexical scoring",
		slog.String("page_id", pageID),
		slog.String("error", err.Error()),
	)

	chunks, ferr := r.store.FindByPage(ctx, pageID, 2*topK)
	if ferr != nil {
		return nil, fmt.Errorf("rag: retrieve page %s: %w", pageID, errors.Join(err, ferr))
	}

	scored := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		score := LexicalScore(query, c.ChunkText)
		if score <= r.cfg.SimilarityThreshold {
			continue
		}
		scored = append(scored, RetrievedChunk{
			ID:         c.ID,
			Content:    c.ChunkText,
			ChunkIndex: c.ChunkIndex,
			Similarity: score,
			Metadata:   c.Metadata,
			Degraded:   true,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].ChunkIndex < scored[j].ChunkIndex
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	r.metrics.Retrieval(string(StrategyLexical), len(scored))
	return &Retrieval{Chunks: scored, Strategy: StrategyLexical}, nil
}
