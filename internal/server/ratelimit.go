package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/pagerag/internal/logging"
)

// Per-client token bucket defaults for the /api/pages and /api/sessions
// routes.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// Eviction policy for idle client buckets.
const (
	limiterIdleTTL     = 5 * time.Minute
	limiterEvictPeriod = time.Minute
)

// clientBucket is one client's token bucket and when it was last used.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket. Ask and ingest requests
// are expensive (an embedding call at least), so a client that floods one
// page cannot starve the others.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	now     func() time.Time
	log     *slog.Logger
}

// newRateLimiter starts a limiter allowing rps sustained requests per second
// and bursts of burst per client. The returned func stops the background
// eviction of idle buckets.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		log:     log,
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(limiterEvictPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := rl.evictIdle(); n > 0 {
					rl.log.Debug("ratelimit: evicted idle clients", slog.Int("count", n))
				}
			}
		}
	}()

	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the client's limiter, creating it on first use.
func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evictIdle drops buckets unused for limiterIdleTTL and returns how many
// were dropped.
func (rl *rateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	n := 0
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
			n++
		}
	}
	return n
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After header giving the whole seconds until a token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		now := rl.now()
		res := rl.bucket(client).ReserveN(now, 1)

		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			logging.FromContext(r.Context()).Warn("ratelimit: request rejected",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retryAfter(res.OK(), delay))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter formats a Retry-After value of at least one second.
func retryAfter(ok bool, delay time.Duration) string {
	if !ok {
		return "60"
	}
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP is the request's remote address without the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
