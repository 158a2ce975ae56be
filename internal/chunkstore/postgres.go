package chunkstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/rag"
)

// PostgresConfig holds connection parameters for the Postgres chunk store.
type PostgresConfig struct {
	// DSN is a postgres:// connection string. Required.
	DSN string
	// Dimensions is the vector column size used when the table is created.
	Dimensions int
	// Debug logs every query through bundebug.
	Debug bool
}

// pageEmbedding is the row model for the page_embeddings table.
type pageEmbedding struct {
	bun.BaseModel `bun:"table:page_embeddings,alias:pe"`

	ID         string            `bun:"id,pk"`
	PageID     string            `bun:"page_id,notnull"`
	ChunkText  string            `bun:"chunk_text,notnull"`
	ChunkIndex int               `bun:"chunk_index,notnull"`
	Embedding  pgvector.Vector   `bun:"embedding,type:vector"`
	Metadata   rag.ChunkMetadata `bun:"metadata,type:jsonb"`
	CreatedAt  time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`

	// Similarity is only populated by Search.
	Similarity float64 `bun:"similarity,scanonly"`
}

// PostgresStore implements Store on Postgres with the pgvector extension.
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore opens the database and creates the extension, table, and
// page index when missing.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errs.Configuration("chunkstore.postgres", errors.New("POSTGRES_DSN is not set"))
	}
	if cfg.Dimensions <= 0 {
		return nil, errs.Configuration("chunkstore.postgres", errors.New("vector dimensions are not set"))
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx, cfg.Dimensions); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an already configured bun.DB. The schema is
// assumed to exist.
func NewPostgresStoreFromDB(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate(ctx context.Context, dim int) error {
	const op = "chunkstore.postgres.migrate"
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS page_embeddings (
	id          TEXT PRIMARY KEY,
	page_id     TEXT NOT NULL,
	chunk_text  TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	embedding   vector(%d) NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
)`, dim),
		`CREATE INDEX IF NOT EXISTS page_embeddings_page_idx ON page_embeddings (page_id, chunk_index)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Persistence(op, err)
		}
	}
	return nil
}

// Name implements Store.
func (s *PostgresStore) Name() string { return BackendPostgres }

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save implements rag.ChunkStore.
func (s *PostgresStore) Save(ctx context.Context, chunk rag.Chunk) error {
	row := &pageEmbedding{
		ID:         chunk.ID,
		PageID:     chunk.PageID,
		ChunkText:  chunk.ChunkText,
		ChunkIndex: chunk.ChunkIndex,
		Embedding:  pgvector.NewVector(chunk.Embedding),
		Metadata:   chunk.Metadata,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return errs.Persistence("chunkstore.postgres.save", err)
	}
	return nil
}

// DeleteByPage implements rag.ChunkStore.
func (s *PostgresStore) DeleteByPage(ctx context.Context, pageID string) error {
	_, err := s.db.NewDelete().
		Model((*pageEmbedding)(nil)).
		Where("page_id = ?", pageID).
		Exec(ctx)
	if err != nil {
		return errs.Persistence("chunkstore.postgres.delete", err)
	}
	return nil
}

// FindByPage implements rag.ChunkStore.
func (s *PostgresStore) FindByPage(ctx context.Context, pageID string, limit int) ([]rag.Chunk, error) {
	var rows []pageEmbedding
	q := s.db.NewSelect().
		Model(&rows).
		Column("id", "page_id", "chunk_text", "chunk_index", "metadata").
		Where("page_id = ?", pageID).
		Order("chunk_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errs.Persistence("chunkstore.postgres.find", err)
	}

	chunks := make([]rag.Chunk, 0, len(rows))
	for _, r := range rows {
		chunks = append(chunks, rag.Chunk{
			ID:         r.ID,
			PageID:     r.PageID,
			ChunkText:  r.ChunkText,
			ChunkIndex: r.ChunkIndex,
			Metadata:   r.Metadata,
		})
	}
	return chunks, nil
}

// Search implements rag.ChunkStore with the cosine distance operator:
// similarity = 1 - (embedding <=> query). Postgres orders NaN above every
// number, so zero-norm rows are excluded in SQL.
func (s *PostgresStore) Search(ctx context.Context, pageID string, query []float32, threshold float64, topK int) ([]rag.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(query)

	var rows []pageEmbedding
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "chunk_text", "chunk_index", "metadata").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec).
		Where("page_id = ?", pageID).
		Where("vector_norm(embedding) > 0").
		Where("1 - (embedding <=> ?) > ?", vec, threshold).
		OrderExpr("embedding <=> ? ASC, chunk_index ASC", vec).
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, errs.Persistence("chunkstore.postgres.search", err)
	}

	hits := make([]rag.RetrievedChunk, 0, len(rows))
	for _, r := range rows {
		if !relevant(r.Similarity, threshold) {
			continue
		}
		hits = append(hits, rag.RetrievedChunk{
			ID:         r.ID,
			Content:    r.ChunkText,
			ChunkIndex: r.ChunkIndex,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	return hits, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
