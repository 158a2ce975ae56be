// Package metrics registers the Prometheus metrics owned by the RAG pipeline
// (embedding, chunk storage, retrieval, answer generation, session writes).
// HTTP metrics live with the server.
//
// All Recorder methods are safe to call on a nil *Recorder so components can
// be constructed without metrics in tests and one-shot CLI commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagerag"

// Embedding request outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeError = "error"
)

// Answer outcomes.
const (
	AnswerGenerated = "generated"
	AnswerNoContext = "no_context"
	AnswerError     = "error"
)

// Recorder holds the pipeline metrics. Construct with [New].
type Recorder struct {
	// embedRequestsTotal counts individual provider calls by backend and
	// outcome ("ok", "retry", "error").
	embedRequestsTotal *prometheus.CounterVec

	// embedDurationSeconds records the latency of individual provider calls.
	embedDurationSeconds *prometheus.HistogramVec

	chunksSavedTotal prometheus.Counter

	// retrievalsTotal counts retrievals by strategy ("vector", "lexical").
	retrievalsTotal *prometheus.CounterVec

	// retrievedChunks records how many chunks each retrieval returned.
	retrievedChunks prometheus.Histogram

	answersTotal *prometheus.CounterVec

	answerConfidence prometheus.Histogram

	sessionWriteFailuresTotal prometheus.Counter
}

// New registers all pipeline metrics against reg. promauto.With(reg) keeps
// unit tests hermetic when reg is a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		embedRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding provider calls, partitioned by backend and outcome.",
		}, []string{"backend", "outcome"}),

		embedDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Latency of embedding provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),

		chunksSavedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "saved_total",
			Help:      "Chunks persisted to the chunk store.",
		}),

		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "total",
			Help:      "Retrievals performed, partitioned by strategy.",
		}, []string{"strategy"}),

		retrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "chunks",
			Help:      "Number of chunks returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		answersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "total",
			Help:      "Answers produced, partitioned by outcome.",
		}, []string{"outcome"}),

		answerConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "confidence",
			Help:      "Heuristic confidence of generated answers.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		sessionWriteFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "write_failures_total",
			Help:      "Chat turns that could not be persisted.",
		}),
	}
}

// EmbedRequest records one provider call.
func (r *Recorder) EmbedRequest(backend, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.embedRequestsTotal.WithLabelValues(backend, outcome).Inc()
	r.embedDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// ChunksSaved adds n to the saved chunk counter.
func (r *Recorder) ChunksSaved(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.chunksSavedTotal.Add(float64(n))
}

// Retrieval records a completed retrieval.
func (r *Recorder) Retrieval(strategy string, chunks int) {
	if r == nil {
		return
	}
	r.retrievalsTotal.WithLabelValues(strategy).Inc()
	r.retrievedChunks.Observe(float64(chunks))
}

// Answer records an answer outcome. confidence is observed only for
// generated answers.
func (r *Recorder) Answer(outcome string, confidence float64) {
	if r == nil {
		return
	}
	r.answersTotal.WithLabelValues(outcome).Inc()
	if outcome == AnswerGenerated {
		r.answerConfidence.Observe(confidence)
	}
}

// SessionWriteFailure counts a swallowed chat-history write error.
func (r *Recorder) SessionWriteFailure() {
	if r == nil {
		return
	}
	r.sessionWriteFailuresTotal.Inc()
}
