//go:build integration

package chunkstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Run with a local Qdrant and a pgvector-enabled Postgres:
//
//	docker run -p 6334:6334 qdrant/qdrant
//	docker run -e POSTGRES_PASSWORD=pg -p 5432:5432 pgvector/pgvector:pg16
//	POSTGRES_DSN=postgres://postgres:pg@localhost:5432/postgres?sslmode=disable \
//	  go test -tags=integration ./internal/chunkstore/

func TestQdrantStore_Contract(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	s, err := NewQdrantStore(ctx, &QdrantConfig{
		Host:       host,
		Collection: "pagerag_test_" + uuid.NewString()[:8],
		VectorSize: 3,
	})
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Client().DeleteCollection(context.Background(), s.cfg.Collection)
		_ = s.Close()
	})
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	runContract(t, s)
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, &PostgresConfig{DSN: dsn, Dimensions: 3})
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	runContract(t, s)
}
