package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/pagerag/internal/logging"
)

func TestRequestLogger_AccessLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pages/{pageID}/embeddings/stats", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("handler")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/pages/page-9/embeddings/stats", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	requestLogger(base, mux).ServeHTTP(w, req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected handler and access lines, got %d: %s", len(lines), buf.String())
	}

	var handlerLine, access map[string]any
	if err := json.Unmarshal(lines[0], &handlerLine); err != nil {
		t.Fatalf("decode handler line: %v", err)
	}
	if handlerLine["request_id"] != "req-1" {
		t.Errorf("handler line request_id = %v", handlerLine["request_id"])
	}

	if err := json.Unmarshal(lines[1], &access); err != nil {
		t.Fatalf("decode access line: %v", err)
	}
	want := map[string]any{
		"msg":        "request",
		"level":      "WARN",
		"request_id": "req-1",
		"route":      "GET /api/pages/{pageID}/embeddings/stats",
		"page_id":    "page-9",
		"status":     float64(http.StatusTeapot),
		"bytes":      float64(len("short and stout")),
	}
	for k, v := range want {
		if access[k] != v {
			t.Errorf("access[%q] = %v, want %v", k, access[k], v)
		}
	}
}

func TestAccessLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/pages/p1/ask", http.StatusOK, slog.LevelInfo},
		{"/api/health", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/api/ready", http.StatusServiceUnavailable, slog.LevelError},
		{"/api/pages/p1/ask", http.StatusBadRequest, slog.LevelWarn},
	}
	for _, tc := range cases {
		if got := accessLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("accessLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"abc123":                 true,
		"":                       false,
		"has space":              false,
		"line\nbreak":            false,
		string(make([]byte, 65)): false,
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef": true,
	}
	for id, want := range cases {
		if got := validRequestID(id); got != want {
			t.Errorf("validRequestID(%q) = %v, want %v", id, got, want)
		}
	}
}
