package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/pagerag/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// maxConcurrentProbes bounds how many dependency probes run at once.
const maxConcurrentProbes = 4

// Pinger reports whether a dependency is reachable. The chunk stores and the
// session store implement it directly; HTTP dependencies use HTTPPinger.
// Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses (e.g. "qdrant").
	Name() string
}

// optionalPinger marks a dependency whose failure degrades the service
// without making it unready.
type optionalPinger struct{ Pinger }

// Optional wraps p so that its failure is reported but does not fail
// readiness. The session store is optional: answers are still served when
// turns cannot be recorded.
func Optional(p Pinger) Pinger { return optionalPinger{p} }

// readyCheck is the outcome of one dependency probe.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// readyResponse is the JSON body of GET /api/ready. Degraded is set when
// only optional dependencies failed.
type readyResponse struct {
	Ready    bool         `json:"ready"`
	Degraded bool         `json:"degraded,omitempty"`
	Checks   []readyCheck `json:"checks"`
}

// probe runs every pinger concurrently and returns the checks in
// registration order.
func probe(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)
	for i, p := range pingers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			_, optional := p.(optionalPinger)
			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				Optional:  optional,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// handleReady handles GET /api/ready. It answers 200 unless a required
// dependency is unreachable, in which case it answers 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	resp := readyResponse{Ready: true, Checks: probe(ctx, s.pingers)}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		log.Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.Bool("optional", c.Optional),
			slog.String("error", c.Error),
		)
		if c.Optional {
			resp.Degraded = true
		} else {
			resp.Ready = false
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(ctx, w, status, resp)
}
