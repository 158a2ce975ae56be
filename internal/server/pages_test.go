package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/pagerag/internal/agent"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/extract"
	"github.com/54b3r/pagerag/internal/ingestion"
	"github.com/54b3r/pagerag/internal/rag"
	"github.com/54b3r/pagerag/internal/segment"
	"github.com/54b3r/pagerag/internal/session"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeAsker implements Asker. It records the last request.
type fakeAsker struct {
	mu   sync.Mutex
	last agent.AskRequest
	resp *agent.AskResponse
	err  error
	msgs []session.Message
}

func (f *fakeAsker) Ask(_ context.Context, req agent.AskRequest) (*agent.AskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &agent.AskResponse{Answer: rag.Answer{Answer: "ok", Sources: []string{}}}, nil
}

func (f *fakeAsker) History(_ context.Context, _ string, _ int) ([]session.Message, error) {
	return f.msgs, f.err
}

// fakeIndexer implements Indexer. It records the last ingested source.
type fakeIndexer struct {
	mu      sync.Mutex
	src     ingestion.Source
	chunks  int
	err     error
	deleted []string
}

func (f *fakeIndexer) IngestPage(_ context.Context, _ string, src ingestion.Source) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = src
	return f.chunks, f.err
}

func (f *fakeIndexer) DeletePageEmbeddings(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, pageID)
	return f.err
}

func (f *fakeIndexer) Stats(context.Context, string) (rag.Stats, error) {
	return rag.Stats{TotalChunks: f.chunks}, nil
}

// fakeFetcher serves a fixed attachment.
type fakeFetcher struct {
	fetched *ingestion.Fetched
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, string) (*ingestion.Fetched, error) {
	return f.fetched, f.err
}

// newTestServer builds a Server over the given fakes with an isolated
// registry, a discarded logger, and a generous rate limit.
func newTestServer(t *testing.T, a Asker, idx Indexer) *Server {
	t.Helper()
	return newTestServerWithConfig(t, a, idx, &Config{})
}

func newTestServerWithConfig(t *testing.T, a Asker, idx Indexer, cfg *Config) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}
	s, err := New(a, idx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errDeadline() error {
	return fmt.Errorf("ask: %w", context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, &fakeIndexer{}, nil); !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("nil asker: expected configuration error, got %v", err)
	}
	if _, err := New(&fakeAsker{}, nil, nil); !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("nil indexer: expected configuration error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// POST /api/pages/{pageID}/embeddings
// ---------------------------------------------------------------------------

func TestHandleGenerate_PassesSource(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{chunks: 3}
	s := newTestServer(t, &fakeAsker{}, idx)

	w := do(t, s.Handler(), http.MethodPost, "/api/pages/p-42/embeddings",
		`{"text":"본문","fileText":"slides","fileType":"pdf","originalPageCount":4}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp embeddingsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PageID != "p-42" || resp.Chunks != 3 || resp.Stats.TotalChunks != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}
	want := ingestion.Source{Text: "본문", FileText: "slides", FileType: "pdf", OriginalPageCount: 4}
	if idx.src != want {
		t.Errorf("source = %+v, want %+v", idx.src, want)
	}
}

func TestHandleGenerate_FetchesAttachment(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{chunks: 1}
	s := newTestServerWithConfig(t, &fakeAsker{}, idx, &Config{
		Fetcher: &fakeFetcher{fetched: &ingestion.Fetched{Body: []byte("# 1장\n\n내용"), FileType: "md"}},
	})

	w := do(t, s.Handler(), http.MethodPost, "/api/pages/p1/embeddings",
		`{"fileUrl":"https://cdn.example.com/lesson.md"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if idx.src.FileText != "1장\n\n내용" || idx.src.FileType != "md" {
		t.Errorf("unexpected source: %+v", idx.src)
	}
}

func TestHandleGenerate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		err     error
		fetcher AttachmentFetcher
		want    int
	}{
		{"invalid json", `{`, nil, nil, http.StatusBadRequest},
		{"no content", `{}`, fmt.Errorf("ingestion: %w", ingestion.ErrNoContent), nil, http.StatusBadRequest},
		{"invalid segments", `{"text":"x"}`, fmt.Errorf("ingestion: %w", segment.ErrInvalid), nil, http.StatusBadRequest},
		{"provider down", `{"text":"x"}`, errs.ProviderRequest("embedder.embed", 503, errors.New("unavailable")), nil, http.StatusBadGateway},
		{"nan vector", `{"text":"x"}`, errs.MalformedResponse("ingestion.embed", errors.New("nan")), nil, http.StatusBadGateway},
		{"store down", `{"text":"x"}`, errs.Persistence("chunkstore.save", errors.New("offline")), nil, http.StatusServiceUnavailable},
		{"missing credential", `{"text":"x"}`, errs.Configuration("embedder", errors.New("no key")), nil, http.StatusInternalServerError},
		{
			"unsupported attachment", `{"fileUrl":"https://x/a.ppt"}`, nil,
			&fakeFetcher{fetched: &ingestion.Fetched{Body: []byte("x"), FileType: "ppt"}},
			http.StatusUnsupportedMediaType,
		},
		{
			"attachment fetch failed", `{"fileUrl":"https://x/a.pdf"}`, nil,
			&fakeFetcher{err: errs.ProviderRequest("ingestion.fetch", 404, errors.New("not found"))},
			http.StatusBadGateway,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServerWithConfig(t, &fakeAsker{}, &fakeIndexer{err: tc.err}, &Config{Fetcher: tc.fetcher})
			w := do(t, s.Handler(), http.MethodPost, "/api/pages/p1/embeddings", tc.body)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("expected JSON error body, got %q (%v)", w.Body.String(), err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// DELETE / stats
// ---------------------------------------------------------------------------

func TestHandleDelete(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{}
	s := newTestServer(t, &fakeAsker{}, idx)

	w := do(t, s.Handler(), http.MethodDelete, "/api/pages/p-9/embeddings", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "p-9" {
		t.Errorf("deleted = %v", idx.deleted)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &fakeIndexer{chunks: 7})
	w := do(t, s.Handler(), http.MethodGet, "/api/pages/p1/embeddings/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st rag.Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.TotalChunks != 7 {
		t.Errorf("totalChunks = %d, want 7", st.TotalChunks)
	}
}

// ---------------------------------------------------------------------------
// POST /api/pages/{pageID}/ask
// ---------------------------------------------------------------------------

func TestHandleAsk_PassesRequest(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{resp: &agent.AskResponse{
		Answer:    rag.Answer{Answer: "고루틴은 경량 스레드입니다.", Confidence: 0.8, Sources: []string{"개요"}},
		SessionID: "s-1",
	}}
	s := newTestServer(t, a, &fakeIndexer{})

	w := do(t, s.Handler(), http.MethodPost, "/api/pages/go-101/ask",
		`{"query":"고루틴이란?","guestId":"g-7","topK":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := agent.AskRequest{PageID: "go-101", Query: "고루틴이란?", GuestID: "g-7", TopK: 3}
	if a.last != want {
		t.Errorf("request = %+v, want %+v", a.last, want)
	}

	var resp agent.AskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "s-1" || resp.Answer.Answer != "고루틴은 경량 스레드입니다." {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleAsk_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"empty query", `{"query":" "}`, agent.ErrEmptyQuery, http.StatusBadRequest},
		{"both owners", `{"query":"q","userId":"u","guestId":"g"}`, nil, http.StatusBadRequest},
		{"timeout", `{"query":"q"}`, errDeadline(), http.StatusGatewayTimeout},
		{"generation failed", `{"query":"q"}`, errs.ProviderRequest("rag.generate", 0, errors.New("eof")), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, &fakeAsker{err: tc.err}, &fakeIndexer{})
			w := do(t, s.Handler(), http.MethodPost, "/api/pages/p1/ask", tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /api/sessions/{sessionID}/messages
// ---------------------------------------------------------------------------

func TestHandleMessages(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{msgs: []session.Message{
		{ID: "m1", Role: session.RoleUser, Content: "q"},
		{ID: "m2", Role: session.RoleAssistant, Content: "a"},
	}}, &fakeIndexer{})

	w := do(t, s.Handler(), http.MethodGet, "/api/sessions/s-1/messages?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp messagesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "s-1" || len(resp.Messages) != 2 || resp.Messages[1].Role != session.RoleAssistant {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleMessages_EmptyIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &fakeIndexer{})
	w := do(t, s.Handler(), http.MethodGet, "/api/sessions/none/messages", "")
	if !strings.Contains(w.Body.String(), `"messages":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestHandleMessages_BadLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &fakeIndexer{})
	for _, q := range []string{"limit=abc", "limit=-1"} {
		w := do(t, s.Handler(), http.MethodGet, "/api/sessions/s/messages?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Routing and middleware wiring
// ---------------------------------------------------------------------------

func TestRoutes_AuthAppliesToAPIOnly(t *testing.T) {
	t.Parallel()

	s := newTestServerWithConfig(t, &fakeAsker{}, &fakeIndexer{}, &Config{APIKey: "k"})
	h := s.Handler()

	if w := do(t, h, http.MethodGet, "/api/pages/p1/embeddings/stats", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("stats without token: expected 401, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/pages/p1/embeddings/stats", nil)
	req.Header.Set("Authorization", "Bearer k")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("stats with token: expected 200, got %d", w.Code)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &fakeIndexer{})
	if w := do(t, s.Handler(), http.MethodGet, "/api/pages/p1/ask", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &fakeIndexer{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}

	w = do(t, s.Handler(), http.MethodGet, "/api/health", "")
	if got := w.Header().Get("X-Request-ID"); len(got) != 16 {
		t.Errorf("generated X-Request-ID = %q, want 16 hex chars", got)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", extract.ErrUnsupported), http.StatusUnsupportedMediaType},
		{fmt.Errorf("x: %w", session.ErrNotFound), http.StatusNotFound},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHandleAsk_Timeout(t *testing.T) {
	t.Parallel()

	s := newTestServerWithConfig(t, blockingAsker{}, &fakeIndexer{}, &Config{AskTimeout: 20 * time.Millisecond})
	w := do(t, s.Handler(), http.MethodPost, "/api/pages/p1/ask", `{"query":"q"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", w.Code)
	}
}

// blockingAsker waits for the request context to end.
type blockingAsker struct{}

func (blockingAsker) Ask(ctx context.Context, _ agent.AskRequest) (*agent.AskResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingAsker) History(context.Context, string, int) ([]session.Message, error) {
	return nil, nil
}
