package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// okHandler answers 200 so tests can tell a request got through.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock for the limiter.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, rps float64, burst int) (*rateLimiter, *fakeClock) {
	t.Helper()
	rl, stop := newRateLimiter(rps, burst, discardLogger())
	t.Cleanup(stop)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rl.now = clock.now
	return rl, clock
}

func hit(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 1, 3)
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := hit(h, http.MethodPost, "/api/pages/p1/ask", "10.0.0.1:9999"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := hit(h, http.MethodPost, "/api/pages/p1/ask", "10.0.0.1:9999")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
		t.Errorf("expected JSON error body, got %q (%v)", w.Body.String(), err)
	}
}

func TestRateLimit_RefillsOverTime(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(t, 0.5, 1)
	h := rl.middleware(okHandler)

	hit(h, http.MethodGet, "/api/sessions/s1/messages", "10.0.0.2:1")
	w := hit(h, http.MethodGet, "/api/sessions/s1/messages", "10.0.0.2:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}

	// A rejected request must not consume the next token.
	clock.advance(2 * time.Second)
	if w := hit(h, http.MethodGet, "/api/sessions/s1/messages", "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Errorf("after refill: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 0.001, 1)
	h := rl.middleware(okHandler)

	for range 5 {
		hit(h, http.MethodPost, "/api/pages/p1/embeddings", "192.168.1.1:1111")
	}
	if w := hit(h, http.MethodPost, "/api/pages/p1/embeddings", "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_EvictIdle(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(t, 1, 1)
	rl.bucket("10.0.0.1")
	clock.advance(limiterIdleTTL / 2)
	rl.bucket("10.0.0.2")
	clock.advance(limiterIdleTTL/2 + time.Second)

	if n := rl.evictIdle(); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, ok := rl.buckets["10.0.0.2"]; !ok {
		t.Error("recently used client was evicted")
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ok    bool
		delay time.Duration
		want  string
	}{
		{true, 0, "1"},
		{true, 300 * time.Millisecond, "1"},
		{true, 2500 * time.Millisecond, "3"},
		{false, 0, "60"},
	}
	for _, tc := range cases {
		if got := retryAfter(tc.ok, tc.delay); got != tc.want {
			t.Errorf("retryAfter(%v, %v) = %q, want %q", tc.ok, tc.delay, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"[fe80::1%eth0]:443", "fe80::1%eth0"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
