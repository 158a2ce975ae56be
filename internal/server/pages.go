package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/pagerag/internal/agent"
	"github.com/54b3r/pagerag/internal/audit"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/extract"
	"github.com/54b3r/pagerag/internal/ingestion"
	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/segment"
	"github.com/54b3r/pagerag/internal/session"
)

// errBadRequest marks request validation failures raised by the handlers.
var errBadRequest = errors.New("bad request")

// handleGenerate handles POST /api/pages/{pageID}/embeddings. The page's
// existing chunks are replaced by chunks built from the posted content.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageID")
	ctx, log := logging.With(r.Context(), slog.String("page_id", pageID))

	var req embeddingsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.IngestTimeout)
	defer cancel()

	start := time.Now()
	src, err := s.resolveSource(ctx, req)
	var n int
	if err == nil {
		n, err = s.indexer.IngestPage(ctx, pageID, src)
	}
	audit.LogPageMutation(ctx, log, "rebuild", pageID, n, err)
	s.metrics.observeIngest("rebuild", err, time.Since(start))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	stats, err := s.indexer.Stats(ctx, pageID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, embeddingsResponse{PageID: pageID, Chunks: n, Stats: stats})
}

// resolveSource builds the ingestion source, downloading and extracting the
// attachment when only its URL was given.
func (s *Server) resolveSource(ctx context.Context, req embeddingsRequest) (ingestion.Source, error) {
	src := ingestion.Source{
		Text:              req.Text,
		FileText:          req.FileText,
		FileType:          req.FileType,
		OriginalPageCount: req.OriginalPageCount,
	}
	if req.FileURL == "" || strings.TrimSpace(req.FileText) != "" {
		return src, nil
	}

	fetched, err := s.fetcher.Fetch(ctx, req.FileURL)
	if err != nil {
		return src, err
	}
	ft := req.FileType
	if ft == "" {
		ft = fetched.FileType
	}
	res, err := extract.Bytes(fetched.Body, ft)
	if err != nil {
		return src, err
	}
	src.FileText = res.Text
	src.FileType = res.FileType
	if src.OriginalPageCount == 0 {
		src.OriginalPageCount = res.Pages
	}
	return src, nil
}

// handleDelete handles DELETE /api/pages/{pageID}/embeddings.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageID")
	ctx, log := logging.With(r.Context(), slog.String("page_id", pageID))

	start := time.Now()
	err := s.indexer.DeletePageEmbeddings(ctx, pageID)
	audit.LogPageMutation(ctx, log, "delete", pageID, 0, err)
	s.metrics.observeIngest("delete", err, time.Since(start))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats handles GET /api/pages/{pageID}/embeddings/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageID")
	ctx, _ := logging.With(r.Context(), slog.String("page_id", pageID))

	stats, err := s.indexer.Stats(ctx, pageID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, stats)
}

// handleAsk handles POST /api/pages/{pageID}/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	pageID := r.PathValue("pageID")
	ctx, _ := logging.With(r.Context(), slog.String("page_id", pageID))

	var req askRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if req.UserID != "" && req.GuestID != "" {
		s.writeError(ctx, w, fmt.Errorf("%w: userId and guestId are mutually exclusive", errBadRequest))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askInFlight.Inc()
	start := time.Now()
	resp, err := s.asker.Ask(ctx, agent.AskRequest{
		PageID:  pageID,
		Query:   req.Query,
		UserID:  req.UserID,
		GuestID: req.GuestID,
		TopK:    req.TopK,
	})
	s.metrics.askInFlight.Dec()
	s.metrics.observeAsk(err, time.Since(start))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, resp)
}

// handleMessages handles GET /api/sessions/{sessionID}/messages?limit=N.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	ctx, _ := logging.With(r.Context(), slog.String("session_id", sessionID))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(ctx, w, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}

	msgs, err := s.asker.History(ctx, sessionID, limit)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	s.writeJSON(ctx, w, http.StatusOK, messagesResponse{SessionID: sessionID, Messages: msgs})
}

// decode reads a size-capped JSON body into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeError maps err to a status code and writes it as a JSON error body.
// 5xx responses are logged.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	s.writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

// statusFor maps the pipeline's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, agent.ErrEmptyQuery),
		errors.Is(err, segment.ErrInvalid),
		errors.Is(err, ingestion.ErrNoContent):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrProviderRequest), errors.Is(err, errs.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		// Configuration errors and anything unclassified.
		return http.StatusInternalServerError
	}
}
