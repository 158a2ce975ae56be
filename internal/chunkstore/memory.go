package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/rag"
)

const memoryCollection = "page_chunks"

// errNoEmbeddingFunc guards against chromem computing embeddings itself;
// every chunk and query arrives pre-embedded.
var errNoEmbeddingFunc = errors.New("chunkstore: memory store requires precomputed embeddings")

// MemoryStore keeps chunks in process. A chromem-go collection serves cosine
// search; a per-page slice keeps insertion order for FindByPage. Contents are
// lost on restart, which suits tests, the CLI, and single-node demos.
type MemoryStore struct {
	col *chromem.Collection

	mu     sync.RWMutex
	byPage map[string][]rag.Chunk
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() (*MemoryStore, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(memoryCollection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbeddingFunc
	})
	if err != nil {
		return nil, errs.Persistence("chunkstore.memory.open", err)
	}
	return &MemoryStore{col: col, byPage: make(map[string][]rag.Chunk)}, nil
}

// Name implements Store.
func (s *MemoryStore) Name() string { return BackendMemory }

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Save implements rag.ChunkStore.
func (s *MemoryStore) Save(ctx context.Context, chunk rag.Chunk) error {
	if len(chunk.Embedding) == 0 {
		return errs.Persistence("chunkstore.memory.save", errors.New("chunk has no embedding"))
	}
	meta := chunk.Metadata.Map()
	meta[keyPageID] = chunk.PageID
	meta[keyChunkIndex] = strconv.Itoa(chunk.ChunkIndex)

	// chromem normalises vectors in place; keep the caller's slice intact.
	vec := append([]float32(nil), chunk.Embedding...)
	err := s.col.AddDocument(ctx, chromem.Document{
		ID:        chunk.ID,
		Content:   chunk.ChunkText,
		Metadata:  meta,
		Embedding: vec,
	})
	if err != nil {
		return errs.Persistence("chunkstore.memory.save", err)
	}

	s.mu.Lock()
	s.byPage[chunk.PageID] = append(s.byPage[chunk.PageID], chunk)
	s.mu.Unlock()
	return nil
}

// DeleteByPage implements rag.ChunkStore.
func (s *MemoryStore) DeleteByPage(ctx context.Context, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byPage[pageID]) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, map[string]string{keyPageID: pageID}, nil); err != nil {
		return errs.Persistence("chunkstore.memory.delete", err)
	}
	delete(s.byPage, pageID)
	return nil
}

// FindByPage implements rag.ChunkStore.
func (s *MemoryStore) FindByPage(_ context.Context, pageID string, limit int) ([]rag.Chunk, error) {
	s.mu.RLock()
	chunks := append([]rag.Chunk(nil), s.byPage[pageID]...)
	s.mu.RUnlock()
	return sortByIndex(chunks, limit), nil
}

// Search implements rag.ChunkStore.
func (s *MemoryStore) Search(ctx context.Context, pageID string, query []float32, threshold float64, topK int) ([]rag.RetrievedChunk, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	pageCount := len(s.byPage[pageID])
	s.mu.RUnlock()
	if pageCount == 0 {
		return nil, nil
	}

	n := min(topK, pageCount, s.col.Count())
	q := append([]float32(nil), query...)
	results, err := s.col.QueryEmbedding(ctx, q, n, map[string]string{keyPageID: pageID}, nil)
	if err != nil {
		return nil, errs.Persistence("chunkstore.memory.search", fmt.Errorf("page %s: %w", pageID, err))
	}

	hits := make([]rag.RetrievedChunk, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if !relevant(sim, threshold) {
			continue
		}
		idx, _ := strconv.Atoi(r.Metadata[keyChunkIndex])
		hits = append(hits, rag.RetrievedChunk{
			ID:         r.ID,
			Content:    r.Content,
			ChunkIndex: idx,
			Similarity: sim,
			Metadata:   rag.ChunkMetadataFromMap(r.Metadata),
		})
	}
	sortBySimilarity(hits)
	return hits, nil
}

// Close implements rag.ChunkStore.
func (s *MemoryStore) Close() error { return nil }
