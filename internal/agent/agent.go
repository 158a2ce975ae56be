// Package agent wires the read path of the page RAG pipeline: a learner's
// question is embedded, the page's relevant chunks are retrieved, an answer
// is generated from them, and the turn is recorded in the learner's chat
// session for that page.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/metrics"
	"github.com/54b3r/pagerag/internal/rag"
	"github.com/54b3r/pagerag/internal/session"
)

// ErrEmptyQuery is returned when the question is blank.
var ErrEmptyQuery = errors.New("agent: query is empty")

// SessionStore is the subset of the session manager used by the agent.
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, pageID, userID, guestID string) (string, error)
	AppendTurn(ctx context.Context, sessionID string, turn session.Turn) error
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
}

// Config holds the dependencies required to construct a PageAgent.
type Config struct {
	// Embedder converts the question into a query vector.
	Embedder rag.QueryEmbedder

	// Retriever finds the page's relevant chunks.
	Retriever *rag.Retriever

	// Generator produces the answer from the retrieved chunks.
	Generator *rag.Generator

	// Sessions is the optional chat history store. If nil, questions are
	// answered without being recorded.
	Sessions SessionStore

	// Metrics is optional.
	Metrics *metrics.Recorder
}

// AskRequest is one question about one page.
type AskRequest struct {
	PageID string
	Query  string
	// Exactly one of UserID and GuestID identifies the learner. Both empty
	// answers the question without recording it.
	UserID  string
	GuestID string
	// TopK overrides the retriever default when > 0.
	TopK int
}

// AskResponse is the answer plus the session it was recorded in. SessionID
// is empty when the turn was not recorded.
type AskResponse struct {
	rag.Answer
	SessionID string `json:"sessionId,omitempty"`
}

// PageAgent answers questions scoped to a single page.
type PageAgent struct {
	embedder  rag.QueryEmbedder
	retriever *rag.Retriever
	generator *rag.Generator
	sessions  SessionStore
	metrics   *metrics.Recorder
}

// New constructs a PageAgent from the provided Config.
func New(cfg *Config) (*PageAgent, error) {
	switch {
	case cfg == nil:
		return nil, errs.Configuration("agent", errors.New("config must not be nil"))
	case cfg.Embedder == nil:
		return nil, errs.Configuration("agent", errors.New("embedder must not be nil"))
	case cfg.Retriever == nil:
		return nil, errs.Configuration("agent", errors.New("retriever must not be nil"))
	case cfg.Generator == nil:
		return nil, errs.Configuration("agent", errors.New("generator must not be nil"))
	}
	return &PageAgent{
		embedder:  cfg.Embedder,
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		sessions:  cfg.Sessions,
		metrics:   cfg.Metrics,
	}, nil
}

// Ask answers req.Query from the chunks of req.PageID.
//
// Embedding, retrieval, and generation failures are returned. Failures to
// record the turn in the session store are logged and counted but never fail
// the answer.
func (a *PageAgent) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	log := logging.FromContext(ctx).With(slog.String("page_id", req.PageID))

	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent: embed query: %w", err)
	}

	retrieval, err := a.retriever.Retrieve(ctx, req.PageID, query, vec, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("agent: retrieve: %w", err)
	}

	answer, err := a.generator.Answer(ctx, req.PageID, query, retrieval)
	if err != nil {
		return nil, fmt.Errorf("agent: answer: %w", err)
	}

	resp := &AskResponse{Answer: *answer}
	if a.sessions == nil || (req.UserID == "" && req.GuestID == "") {
		return resp, nil
	}

	sessionID, err := a.sessions.GetOrCreateSession(ctx, req.PageID, req.UserID, req.GuestID)
	if err != nil {
		a.metrics.SessionWriteFailure()
		log.Warn("session: failed to resolve session", slog.Any("error", err))
		return resp, nil
	}
	resp.SessionID = sessionID

	turn := session.Turn{
		Query:           query,
		Answer:          answer.Answer,
		RetrievedChunks: chunkIDs(answer.Context.Chunks),
		Confidence:      answer.Confidence,
		Metadata: map[string]any{
			"strategy":        string(answer.Context.Strategy),
			"total_retrieved": answer.Context.TotalRetrieved,
			"sources":         answer.Sources,
		},
	}
	if err := a.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
		a.metrics.SessionWriteFailure()
		log.Warn("session: failed to persist turn",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
	return resp, nil
}

// History returns the newest limit messages of a session, oldest first.
func (a *PageAgent) History(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	if a.sessions == nil {
		return nil, errs.Configuration("agent.history", errors.New("session store is not configured"))
	}
	msgs, err := a.sessions.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("agent: history: %w", err)
	}
	return msgs, nil
}

func chunkIDs(chunks []rag.RetrievedChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
