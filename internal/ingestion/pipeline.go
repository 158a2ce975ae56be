// Package ingestion implements the write path of the page RAG pipeline:
// segments of a page are preprocessed, split into overlapping chunks,
// embedded in paced batches, and saved with a page-wide monotonic chunk
// index. Generation, deletion, and rebuild of the same page are serialized
// by a per-page lock.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/pagerag/internal/chunker"
	"github.com/54b3r/pagerag/internal/chunkstore"
	"github.com/54b3r/pagerag/internal/embedder"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/metrics"
	"github.com/54b3r/pagerag/internal/rag"
	"github.com/54b3r/pagerag/internal/segment"
)

// ErrNoContent is returned by IngestPage when a page has neither prose nor an
// attachment.
var ErrNoContent = errors.New("ingestion: page has no content")

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of runes per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of runes shared by consecutive chunks.
	// Defaults to 200 if zero.
	ChunkOverlap int

	// Dimensions is the expected embedding length. Zero disables the check.
	Dimensions int
}

// Source is the raw content of one page.
type Source struct {
	// Text is the page's authored prose.
	Text string
	// FileText is text already extracted from the page's attachment.
	FileText string
	// FileType is the attachment type hint (e.g. "pdf").
	FileType string
	// OriginalPageCount is the attachment's page count, when known.
	OriginalPageCount int
}

// Pipeline orchestrates the segment → chunk → embed → save flow.
type Pipeline struct {
	// embedder converts chunk texts into vectors.
	embedder rag.BatchEmbedder

	// store persists the embedded chunks.
	store rag.ChunkStore

	// segmenter turns page sources into segments for IngestPage.
	segmenter *segment.Segmenter

	cfg     Config
	locks   *pageLocks
	log     *slog.Logger
	metrics *metrics.Recorder
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(emb rag.BatchEmbedder, store rag.ChunkStore, cfg *Config, log *slog.Logger, rec *metrics.Recorder) (*Pipeline, error) {
	if emb == nil {
		return nil, errs.Configuration("ingestion", errors.New("embedder must not be nil"))
	}
	if store == nil {
		return nil, errs.Configuration("ingestion", errors.New("store must not be nil"))
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunker.DefaultChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 0
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		embedder:  emb,
		store:     store,
		segmenter: segment.New(log),
		cfg:       c,
		locks:     newPageLocks(),
		log:       log,
		metrics:   rec,
	}, nil
}

// WithSegmenter replaces the segmenter used by IngestPage.
func (p *Pipeline) WithSegmenter(s *segment.Segmenter) *Pipeline {
	p.segmenter = s
	return p
}

// Segment turns a page source into validated segments: prose only, attachment
// only, or both interleaved.
func (p *Pipeline) Segment(src Source) ([]rag.Segment, error) {
	opts := segment.Options{ChunkSize: p.cfg.ChunkSize, ChunkOverlap: p.cfg.ChunkOverlap}
	hasText := strings.TrimSpace(src.Text) != ""
	hasFile := strings.TrimSpace(src.FileText) != ""

	switch {
	case hasText && hasFile:
		return p.segmenter.Mixed(src.Text, src.FileText, src.FileType, opts)
	case hasFile:
		return p.segmenter.File(src.FileText, src.FileType, src.OriginalPageCount, opts)
	case hasText:
		return p.segmenter.Text(src.Text, opts)
	default:
		return nil, ErrNoContent
	}
}

// IngestPage segments src and replaces the page's chunks with freshly
// embedded ones. It returns the number of chunks saved.
func (p *Pipeline) IngestPage(ctx context.Context, pageID string, src Source) (int, error) {
	segments, err := p.Segment(src)
	if err != nil {
		return 0, fmt.Errorf("ingestion: segment page %s: %w", pageID, err)
	}
	return p.RebuildPageEmbeddings(ctx, pageID, segments)
}

// GeneratePageEmbeddings chunks, embeds, and saves every segment of the page
// in order and returns the number of chunks saved. Chunk indexes run 0..n-1
// across the page.
//
// The first failure aborts the run. Chunks saved before the failure remain;
// recover with RebuildPageEmbeddings.
func (p *Pipeline) GeneratePageEmbeddings(ctx context.Context, pageID string, segments []rag.Segment) (int, error) {
	unlock, err := p.locks.lock(ctx, pageID)
	if err != nil {
		return 0, fmt.Errorf("ingestion: lock page %s: %w", pageID, err)
	}
	defer unlock()
	return p.generate(ctx, pageID, segments)
}

// DeletePageEmbeddings removes every chunk of the page.
func (p *Pipeline) DeletePageEmbeddings(ctx context.Context, pageID string) error {
	unlock, err := p.locks.lock(ctx, pageID)
	if err != nil {
		return fmt.Errorf("ingestion: lock page %s: %w", pageID, err)
	}
	defer unlock()
	if err := p.store.DeleteByPage(ctx, pageID); err != nil {
		return fmt.Errorf("ingestion: delete page %s: %w", pageID, err)
	}
	logging.FromContext(ctx).Info("ingestion: page embeddings deleted", slog.String("page_id", pageID))
	return nil
}

// RebuildPageEmbeddings deletes the page's chunks and generates them again
// under a single lock hold, so no concurrent run can interleave.
func (p *Pipeline) RebuildPageEmbeddings(ctx context.Context, pageID string, segments []rag.Segment) (int, error) {
	unlock, err := p.locks.lock(ctx, pageID)
	if err != nil {
		return 0, fmt.Errorf("ingestion: lock page %s: %w", pageID, err)
	}
	defer unlock()
	if err := p.store.DeleteByPage(ctx, pageID); err != nil {
		return 0, fmt.Errorf("ingestion: delete page %s: %w", pageID, err)
	}
	return p.generate(ctx, pageID, segments)
}

// Stats summarises the stored chunks of the page.
func (p *Pipeline) Stats(ctx context.Context, pageID string) (rag.Stats, error) {
	st, err := chunkstore.Stats(ctx, p.store, pageID)
	if err != nil {
		return rag.Stats{}, fmt.Errorf("ingestion: stats page %s: %w", pageID, err)
	}
	return st, nil
}

func (p *Pipeline) generate(ctx context.Context, pageID string, segments []rag.Segment) (int, error) {
	log := logging.FromContext(ctx).With(slog.String("page_id", pageID))

	if err := segment.Validate(segments); err != nil {
		return 0, fmt.Errorf("ingestion: page %s: %w", pageID, err)
	}

	saved := 0
	for _, seg := range segments {
		text := chunker.Preprocess(seg.Content, 0)
		pieces := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if len(pieces) == 0 {
			continue
		}

		vecs, err := p.embedder.EmbedBatch(ctx, pieces)
		if err != nil {
			return saved, fmt.Errorf("ingestion: embed segment %s: %w", seg.ID, err)
		}
		if len(vecs) != len(pieces) {
			return saved, errs.MalformedResponse("ingestion.embed",
				fmt.Errorf("segment %s: %d vectors for %d chunks", seg.ID, len(vecs), len(pieces)))
		}

		for i, piece := range pieces {
			if !embedder.ValidateEmbedding(vecs[i], p.cfg.Dimensions, log) {
				return saved, errs.MalformedResponse("ingestion.embed",
					fmt.Errorf("segment %s chunk %d: embedding is empty or not finite", seg.ID, i))
			}
			chunk := rag.Chunk{
				ID:         uuid.NewString(),
				PageID:     pageID,
				ChunkText:  piece,
				Embedding:  vecs[i],
				ChunkIndex: saved,
				Metadata: rag.ChunkMetadata{
					SegmentID:            seg.ID,
					ChunkInSegment:       i,
					TotalChunksInSegment: len(pieces),
					SegmentMetadata:      seg.Metadata,
				},
			}
			if err := p.store.Save(ctx, chunk); err != nil {
				return saved, fmt.Errorf("ingestion: save chunk %d: %w", saved, err)
			}
			saved++
			p.metrics.ChunksSaved(1)
		}
		log.Debug("ingestion: segment embedded",
			slog.String("segment_id", seg.ID),
			slog.Int("chunks", len(pieces)),
		)
	}

	log.Info("ingestion: page embeddings generated",
		slog.Int("segments", len(segments)),
		slog.Int("chunks", saved),
	)
	return saved, nil
}
