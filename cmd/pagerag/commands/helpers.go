package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/pagerag/internal/agent"
	"github.com/54b3r/pagerag/internal/chunker"
	"github.com/54b3r/pagerag/internal/chunkstore"
	"github.com/54b3r/pagerag/internal/config"
	"github.com/54b3r/pagerag/internal/embedder"
	"github.com/54b3r/pagerag/internal/ingestion"
	"github.com/54b3r/pagerag/internal/metrics"
	"github.com/54b3r/pagerag/internal/provider"
	"github.com/54b3r/pagerag/internal/rag"
	"github.com/54b3r/pagerag/internal/server"
	"github.com/54b3r/pagerag/internal/session"
)

// index bundles the write-path components shared by every command that
// touches a page's chunks.
type index struct {
	log      *slog.Logger
	metrics  *metrics.Recorder
	embedder *embedder.Client
	store    chunkstore.Store
	pipeline *ingestion.Pipeline
	closers  []func()
}

// Close releases everything opened by buildIndex and buildAgent, newest first.
func (ix *index) Close() {
	for i := len(ix.closers) - 1; i >= 0; i-- {
		ix.closers[i]()
	}
}

// buildIndex constructs the embedder, the chunk store selected by
// CHUNK_STORE, and the ingestion pipeline over them.
func buildIndex(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*index, error) {
	rec := metrics.New(reg)

	emb, err := embedder.NewFromEnv(log, rec)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", emb.Backend()),
		slog.Int("dimensions", emb.Dimensions()),
	)

	store, err := chunkstore.NewFromEnv(ctx, emb.Dimensions(), log)
	if err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}

	pipeline, err := ingestion.NewPipeline(emb, store, &ingestion.Config{
		ChunkSize:    config.Int("RAG_CHUNK_SIZE", chunker.DefaultChunkSize),
		ChunkOverlap: config.Int("RAG_CHUNK_OVERLAP", chunker.DefaultChunkOverlap),
		Dimensions:   emb.Dimensions(),
	}, log, rec)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &index{
		log:      log,
		metrics:  rec,
		embedder: emb,
		store:    store,
		pipeline: pipeline,
		closers:  []func(){func() { _ = store.Close() }},
	}, nil
}

// buildAgent adds the read path on top of ix: the chat model, retriever,
// generator, and the optional session store. The session store is returned
// separately so callers can register it as a readiness probe; it is nil
// when sessions are disabled.
func buildAgent(ctx context.Context, ix *index) (*agent.PageAgent, *provider.Config, *session.Store, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("model provider: %w", err)
	}
	ix.log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	retriever := rag.NewRetriever(ix.store, rag.RetrieverConfig{
		SimilarityThreshold: config.Float("RAG_SIMILARITY_THRESHOLD", rag.DefaultSimilarityThreshold),
		TopK:                config.Int("RAG_TOP_K", rag.DefaultTopK),
	}, ix.log, ix.metrics)

	genCfg := rag.GeneratorConfig{
		MaxContextLength: config.Int("RAG_MAX_CONTEXT_LENGTH", 0),
	}
	if providerCfg.SupportsSampling() {
		temp := providerCfg.Tuning.Temperature
		genCfg.MaxTokens = providerCfg.Tuning.MaxTokens
		genCfg.Temperature = &temp
	} else {
		ix.log.Info("provider: sampling options disabled for reasoning deployment",
			slog.String("deployment", providerCfg.AzureOpenAI.Deployment))
	}
	generator := rag.NewGenerator(chatModel, genCfg, ix.log, ix.metrics)

	agentCfg := &agent.Config{
		Embedder:  ix.embedder,
		Retriever: retriever,
		Generator: generator,
		Metrics:   ix.metrics,
	}
	sessions := openSessions(ix.log)
	if sessions != nil {
		agentCfg.Sessions = sessions
		ix.closers = append(ix.closers, func() { _ = sessions.Close() })
	}

	pa, err := agent.New(agentCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return pa, providerCfg, sessions, nil
}

// openSessions opens the chat session store. PAGERAG_SESSION_DB overrides
// the default path (~/.pagerag/sessions.db); "disabled" turns sessions off.
// Failures disable sessions rather than aborting the command.
func openSessions(log *slog.Logger) *session.Store {
	dbPath := config.String("", "PAGERAG_SESSION_DB")
	if dbPath == "disabled" {
		log.Info("session: disabled via PAGERAG_SESSION_DB=disabled")
		return nil
	}
	if dbPath == "" {
		p, err := session.DefaultDBPath()
		if err != nil {
			log.Warn("session: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
		dbPath = p
	}
	s, err := session.Open(dbPath)
	if err != nil {
		log.Warn("session: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("session: store opened", slog.String("path", dbPath))
	return s
}

// buildPingers returns the readiness probes for serve: the chunk store, the
// session store (optional) when enabled, the chat provider, and the
// embedding endpoint when it is a separate Ollama host.
func buildPingers(ix *index, providerCfg *provider.Config, sessions *session.Store) []server.Pinger {
	pingers := []server.Pinger{ix.store}
	if sessions != nil {
		pingers = append(pingers, server.Optional(sessions))
	}
	if p := server.NewProviderPinger(providerCfg); p != nil {
		pingers = append(pingers, p)
	}
	if ix.embedder.Backend() == "ollama" {
		host := strings.TrimRight(config.String("http://localhost:11434", "EMBEDDING_ENDPOINT", "OLLAMA_HOST"), "/")
		if providerCfg.Backend != provider.BackendOllama || host != strings.TrimRight(providerCfg.Ollama.Host, "/") {
			pingers = append(pingers, server.NewHTTPPinger("embedding", host+"/api/tags"))
		}
	}
	return pingers
}
