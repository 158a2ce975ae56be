package chunkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/rag"
)

// maxScroll caps FindByPage when the caller asks for every chunk of a page.
const maxScroll = 10000

// QdrantConfig holds connection parameters for a Qdrant chunk store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection holding every page's chunks.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store backed by a Qdrant collection. Chunks of all
// pages share one collection and are scoped by a page_id payload filter.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the collection and its payload
// indexes exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, errs.Configuration("chunkstore.qdrant", errors.New("vector size is not set"))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errs.Persistence("chunkstore.qdrant.connect", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// Client exposes the underlying gRPC client.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Name implements Store.
func (s *QdrantStore) Name() string { return BackendQdrant }

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// ensureCollection creates the collection if it does not already exist,
// together with keyword and integer payload indexes for page scoping and
// ordered scrolls.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	const op = "chunkstore.qdrant.ensure_collection"

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return errs.Persistence(op, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errs.Persistence(op, fmt.Errorf("create collection %q: %w", s.cfg.Collection, err))
	}

	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{keyPageID, qdrant.FieldType_FieldTypeKeyword},
		{keyChunkIndex, qdrant.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
		})
		if err != nil {
			return errs.Persistence(op, fmt.Errorf("create %s index: %w", idx.field, err))
		}
	}
	return nil
}

func pageFilter(pageID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(keyPageID, pageID)},
	}
}

// Save implements rag.ChunkStore.
func (s *QdrantStore) Save(ctx context.Context, chunk rag.Chunk) error {
	payload := map[string]any{
		keyPageID:     chunk.PageID,
		keyChunkText:  chunk.ChunkText,
		keyChunkIndex: int64(chunk.ChunkIndex),
	}
	for k, v := range chunk.Metadata.Map() {
		payload[k] = v
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return errs.Persistence("chunkstore.qdrant.save", err)
	}
	return nil
}

// DeleteByPage implements rag.ChunkStore.
func (s *QdrantStore) DeleteByPage(ctx context.Context, pageID string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(pageFilter(pageID)),
	})
	if err != nil {
		return errs.Persistence("chunkstore.qdrant.delete", err)
	}
	return nil
}

// FindByPage implements rag.ChunkStore using an ordered scroll.
func (s *QdrantStore) FindByPage(ctx context.Context, pageID string, limit int) ([]rag.Chunk, error) {
	lim := uint32(maxScroll)
	if limit > 0 && limit < maxScroll {
		lim = uint32(limit)
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter:         pageFilter(pageID),
		Limit:          &lim,
		OrderBy:        &qdrant.OrderBy{Key: keyChunkIndex},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errs.Persistence("chunkstore.qdrant.find", err)
	}

	chunks := make([]rag.Chunk, 0, len(points))
	for _, p := range points {
		text, idx, meta := decodePayload(p.GetPayload())
		chunks = append(chunks, rag.Chunk{
			ID:         p.GetId().GetUuid(),
			PageID:     pageID,
			ChunkText:  text,
			ChunkIndex: idx,
			Metadata:   meta,
		})
	}
	return sortByIndex(chunks, limit), nil
}

// Search implements rag.ChunkStore. Qdrant applies the threshold inclusively,
// so hits equal to it are dropped here.
func (s *QdrantStore) Search(ctx context.Context, pageID string, query []float32, threshold float64, topK int) ([]rag.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK)
	thr := float32(threshold)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         pageFilter(pageID),
		Limit:          &limit,
		ScoreThreshold: &thr,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errs.Persistence("chunkstore.qdrant.search", err)
	}

	hits := make([]rag.RetrievedChunk, 0, len(results))
	for _, r := range results {
		sim := float64(r.GetScore())
		if !relevant(sim, threshold) {
			continue
		}
		text, idx, meta := decodePayload(r.GetPayload())
		hits = append(hits, rag.RetrievedChunk{
			ID:         r.GetId().GetUuid(),
			Content:    text,
			ChunkIndex: idx,
			Similarity: sim,
			Metadata:   meta,
		})
	}
	sortBySimilarity(hits)
	return hits, nil
}

func decodePayload(p map[string]*qdrant.Value) (text string, index int, meta rag.ChunkMetadata) {
	flat := make(map[string]string, len(p))
	for k, v := range p {
		switch k {
		case keyChunkText:
			text = v.GetStringValue()
		case keyChunkIndex:
			index = int(v.GetIntegerValue())
		case keyPageID:
		default:
			flat[k] = v.GetStringValue()
		}
	}
	return text, index, rag.ChunkMetadataFromMap(flat)
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
