// Package chunkstore provides the page-scoped chunk stores behind
// rag.ChunkStore: an in-process store on chromem-go, a Qdrant store, and a
// Postgres store using pgvector through bun. Every backend failure is
// returned as an errs.ErrPersistence error.
package chunkstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/54b3r/pagerag/internal/config"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/rag"
)

// Backend names accepted by CHUNK_STORE.
const (
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPostgres = "postgres"
)

// Payload keys shared by the string-payload backends.
const (
	keyPageID     = "page_id"
	keyChunkIndex = "chunk_index"
	keyChunkText  = "chunk_text"
)

// Store is a rag.ChunkStore that can also report its own reachability for
// readiness probes.
type Store interface {
	rag.ChunkStore
	Ping(ctx context.Context) error
	Name() string
}

// NewFromEnv builds the store selected by CHUNK_STORE (default memory).
// dim is the embedding dimension used when a collection or table has to be
// created.
func NewFromEnv(ctx context.Context, dim int, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	backend := config.String(BackendMemory, "CHUNK_STORE")

	switch backend {
	case BackendMemory:
		log.Info("chunkstore: using in-memory store")
		return NewMemoryStore()

	case BackendQdrant:
		cfg := &QdrantConfig{
			Host:       config.String("localhost", "QDRANT_HOST"),
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("page_chunks", "QDRANT_COLLECTION"),
			VectorSize: uint64(dim),
			APIKey:     config.String("", "QDRANT_API_KEY"),
			UseTLS:     config.Bool("QDRANT_TLS", false),
		}
		log.Info("chunkstore: using qdrant",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return NewQdrantStore(ctx, cfg)

	case BackendPostgres:
		cfg := &PostgresConfig{
			DSN:        config.String("", "POSTGRES_DSN"),
			Dimensions: dim,
			Debug:      config.Bool("POSTGRES_DEBUG", false),
		}
		log.Info("chunkstore: using postgres", slog.Int("dimensions", dim))
		return NewPostgresStore(ctx, cfg)

	default:
		return nil, errs.Configuration("chunkstore", fmt.Errorf("unknown CHUNK_STORE %q; valid values: memory, qdrant, postgres", backend))
	}
}

// Stats computes page statistics from the chunks returned by FindByPage.
func Stats(ctx context.Context, s rag.ChunkStore, pageID string) (rag.Stats, error) {
	chunks, err := s.FindByPage(ctx, pageID, 0)
	if err != nil {
		return rag.Stats{}, err
	}
	return rag.ComputeStats(chunks), nil
}

// sortByIndex orders chunks by ChunkIndex and applies limit (<= 0 keeps all).
func sortByIndex(chunks []rag.Chunk, limit int) []rag.Chunk {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks
}

// relevant reports whether sim strictly exceeds threshold. A NaN similarity,
// produced by a zero-norm vector on either side, is never relevant.
func relevant(sim, threshold float64) bool {
	return sim > threshold
}

// sortBySimilarity orders hits by similarity descending, breaking ties by
// ChunkIndex so insertion order decides equal scores.
func sortBySimilarity(hits []rag.RetrievedChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
}
