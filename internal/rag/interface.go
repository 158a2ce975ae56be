// Package rag defines the types and interfaces of the page-scoped
// retrieval-augmented generation pipeline: segments and chunks on the write
// path, retrieved chunks, assembled context, and answers on the read path.
// Concrete stores (chromem-go, Qdrant, Postgres) and embedders satisfy the
// interfaces declared here so the pipeline never depends on a specific backend.
package rag

import (
	"context"
	"strconv"
)

// ContentType classifies where a segment's content came from.
type ContentType string

const (
	// ContentText is authored page prose.
	ContentText ContentType = "TEXT"
	// ContentFile is text extracted from an attached file.
	ContentFile ContentType = "FILE"
	// ContentMixed is a segment of a page that combines prose and a file.
	ContentMixed ContentType = "MIXED"
)

// Difficulty is the heuristic reading difficulty of a segment.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// SegmentMetadata is derived once during segmentation and copied onto every
// chunk produced from the segment.
type SegmentMetadata struct {
	// PageNumber is the 1-based position of the segment within the page.
	PageNumber int `json:"pageNumber,omitempty"`
	// Section is a heading-like label for the segment.
	Section string `json:"section,omitempty"`
	// EstimatedReadTime is the reading time in minutes. Nil means not computed.
	EstimatedReadTime *int `json:"estimatedReadTime,omitempty"`
	// WordCount counts Hangul syllable runs plus Latin word runs. Nil means not computed.
	WordCount *int `json:"wordCount,omitempty"`
	// Difficulty is easy, medium, or hard.
	Difficulty Difficulty `json:"difficulty,omitempty"`
	// Source is "text" or "file" for segments of a mixed page.
	Source string `json:"source,omitempty"`
}

// Segment is a contiguous, metadata-tagged slice of a page's source content.
type Segment struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	ContentType ContentType     `json:"contentType"`
	StartIndex  int             `json:"startIndex"`
	EndIndex    int             `json:"endIndex"`
	Metadata    SegmentMetadata `json:"metadata"`
}

// ChunkMetadata links a chunk back to its segment.
type ChunkMetadata struct {
	SegmentID            string `json:"segmentId"`
	ChunkInSegment       int    `json:"chunkInSegment"`
	TotalChunksInSegment int    `json:"totalChunksInSegment"`
	SegmentMetadata
}

// Chunk is the persisted unit: a bounded slice of segment text plus its embedding.
type Chunk struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	ChunkText string    `json:"chunkText"`
	Embedding []float32 `json:"-"`
	// ChunkIndex is 0-based and monotonic per page in insertion order.
	ChunkIndex int           `json:"chunkIndex"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// Strategy names the retrieval path that produced a result set.
type Strategy string

const (
	// StrategyVector is nearest-neighbour cosine search.
	StrategyVector Strategy = "vector"
	// StrategyLexical is the degraded term-overlap fallback. Its scores are
	// not comparable with vector similarities.
	StrategyLexical Strategy = "lexical"
)

// RetrievedChunk is a transient search hit, valid for one query.
type RetrievedChunk struct {
	ID         string        `json:"id"`
	Content    string        `json:"content"`
	ChunkIndex int           `json:"chunkIndex"`
	Similarity float64       `json:"similarity"`
	Metadata   ChunkMetadata `json:"metadata"`
	// Degraded is true when Similarity came from the lexical fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Retrieval is the ranked output of a Retriever.
type Retrieval struct {
	Chunks   []RetrievedChunk
	Strategy Strategy
}

// Context is the length-budgeted prefix of a retrieval handed to generation.
type Context struct {
	PageID string           `json:"pageId"`
	Query  string           `json:"query"`
	Chunks []RetrievedChunk `json:"chunks"`
	// TotalRetrieved is the number of chunks retrieved before budgeting.
	TotalRetrieved int      `json:"totalRetrieved"`
	Strategy       Strategy `json:"strategy,omitempty"`
}

// Answer is returned to callers; it is persisted only as chat messages.
type Answer struct {
	Answer     string   `json:"answer"`
	Context    Context  `json:"context"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Stats summarises the stored chunks of one page.
type Stats struct {
	TotalChunks    int     `json:"totalChunks"`
	AvgChunkLength float64 `json:"avgChunkLength"`
	TotalTokens    int     `json:"totalTokens"`
}

// ChunkStore persists chunk records keyed by page.
// Implementations must be safe to call from multiple goroutines.
type ChunkStore interface {
	// Save persists a single chunk with its embedding.
	Save(ctx context.Context, chunk Chunk) error

	// DeleteByPage removes every chunk of the page. There is no partial delete.
	DeleteByPage(ctx context.Context, pageID string) error

	// FindByPage returns up to limit chunks of the page ordered by ChunkIndex.
	// A limit <= 0 returns all chunks.
	FindByPage(ctx context.Context, pageID string, limit int) ([]Chunk, error)

	// Search returns up to topK chunks of the page whose cosine similarity to
	// query is strictly greater than threshold, ordered by similarity descending.
	Search(ctx context.Context, pageID string, query []float32, threshold float64, topK int) ([]RetrievedChunk, error)

	// Close releases any resources held by the store.
	Close() error
}

// QueryEmbedder converts a user query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder converts a list of chunk texts into vectors. The returned
// slice is parallel to the input.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Map flattens the metadata into string pairs for stores whose payloads are
// string-valued (chromem-go, Qdrant).
func (m ChunkMetadata) Map() map[string]string {
	out := map[string]string{
		"segment_id":              m.SegmentID,
		"chunk_in_segment":        strconv.Itoa(m.ChunkInSegment),
		"total_chunks_in_segment": strconv.Itoa(m.TotalChunksInSegment),
	}
	if m.PageNumber > 0 {
		out["page_number"] = strconv.Itoa(m.PageNumber)
	}
	if m.Section != "" {
		out["section"] = m.Section
	}
	if m.EstimatedReadTime != nil {
		out["estimated_read_time"] = strconv.Itoa(*m.EstimatedReadTime)
	}
	if m.WordCount != nil {
		out["word_count"] = strconv.Itoa(*m.WordCount)
	}
	if m.Difficulty != "" {
		out["difficulty"] = string(m.Difficulty)
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	return out
}

// ChunkMetadataFromMap is the inverse of [ChunkMetadata.Map]. Unknown keys are
// ignored and unparsable numbers are left at their zero value.
func ChunkMetadataFromMap(m map[string]string) ChunkMetadata {
	var md ChunkMetadata
	md.SegmentID = m["segment_id"]
	md.ChunkInSegment = atoi(m["chunk_in_segment"])
	md.TotalChunksInSegment = atoi(m["total_chunks_in_segment"])
	md.PageNumber = atoi(m["page_number"])
	md.Section = m["section"]
	if v, ok := m["estimated_read_time"]; ok {
		n := atoi(v)
		md.EstimatedReadTime = &n
	}
	if v, ok := m["word_count"]; ok {
		n := atoi(v)
		md.WordCount = &n
	}
	md.Difficulty = Difficulty(m["difficulty"])
	md.Source = m["source"]
	return md
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
