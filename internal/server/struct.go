package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/pagerag/internal/agent"
	"github.com/54b3r/pagerag/internal/ingestion"
	"github.com/54b3r/pagerag/internal/rag"
	"github.com/54b3r/pagerag/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single question end to end (default: 2m).
	AskTimeout time.Duration
	// IngestTimeout bounds a single page rebuild end to end (default: 10m).
	IngestTimeout time.Duration
	// MaxBodyBytes caps JSON request bodies (default: 32 MiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Fetcher downloads attachments referenced by fileUrl. If nil, a
	// Fetcher with a 30s timeout is used.
	Fetcher AttachmentFetcher
}

// Asker answers questions about a page and reads chat history.
// *agent.PageAgent satisfies it; tests inject a fake.
type Asker interface {
	Ask(ctx context.Context, req agent.AskRequest) (*agent.AskResponse, error)
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
}

// Indexer maintains a page's embeddings.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type Indexer interface {
	IngestPage(ctx context.Context, pageID string, src ingestion.Source) (int, error)
	DeletePageEmbeddings(ctx context.Context, pageID string) error
	Stats(ctx context.Context, pageID string) (rag.Stats, error)
}

// AttachmentFetcher downloads a page attachment.
// *ingestion.Fetcher satisfies it.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*ingestion.Fetched, error)
}

// Server is the HTTP server that exposes the page RAG pipeline.
type Server struct {
	// asker handles the read path.
	asker Asker
	// indexer handles the write path.
	indexer Indexer
	// fetcher resolves fileUrl attachments.
	fetcher AttachmentFetcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// embeddingsRequest is the JSON body for POST /api/pages/{pageID}/embeddings.
type embeddingsRequest struct {
	// Text is the page's authored prose.
	Text string `json:"text"`
	// FileText is text already extracted from the page's attachment.
	FileText string `json:"fileText"`
	// FileType is the attachment type (e.g. "pdf").
	FileType string `json:"fileType"`
	// OriginalPageCount is the attachment's page count, when known.
	OriginalPageCount int `json:"originalPageCount"`
	// FileURL is downloaded and extracted when FileText is empty.
	FileURL string `json:"fileUrl,omitempty"`
}

// embeddingsResponse is returned after a page is rebuilt.
type embeddingsResponse struct {
	PageID string    `json:"pageId"`
	Chunks int       `json:"chunks"`
	Stats  rag.Stats `json:"stats"`
}

// askRequest is the JSON body for POST /api/pages/{pageID}/ask.
type askRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"userId,omitempty"`
	GuestID string `json:"guestId,omitempty"`
	TopK    int    `json:"topK,omitempty"`
}

// messagesResponse is the JSON body for GET /api/sessions/{sessionID}/messages.
type messagesResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []session.Message `json:"messages"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
