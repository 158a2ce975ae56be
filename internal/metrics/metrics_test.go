package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s%v not found", name, labels)
	return 0
}

func Test_Recorder_Counters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.EmbedRequest("openai", OutcomeRetry, 10*time.Millisecond)
	r.EmbedRequest("openai", OutcomeOK, 20*time.Millisecond)
	r.EmbedRequest("openai", OutcomeOK, 20*time.Millisecond)
	r.ChunksSaved(7)
	r.Retrieval("lexical", 3)
	r.Answer(AnswerNoContext, 0)
	r.SessionWriteFailure()

	if v := counterValue(t, reg, "pagerag_embedding_requests_total", map[string]string{"backend": "openai", "outcome": "ok"}); v != 2 {
		t.Errorf("embedding ok = %v, want 2", v)
	}
	if v := counterValue(t, reg, "pagerag_chunks_saved_total", nil); v != 7 {
		t.Errorf("chunks saved = %v, want 7", v)
	}
	if v := counterValue(t, reg, "pagerag_retrieval_total", map[string]string{"strategy": "lexical"}); v != 1 {
		t.Errorf("lexical retrievals = %v, want 1", v)
	}
	if v := counterValue(t, reg, "pagerag_answer_total", map[string]string{"outcome": AnswerNoContext}); v != 1 {
		t.Errorf("no_context answers = %v, want 1", v)
	}
	if v := counterValue(t, reg, "pagerag_session_write_failures_total", nil); v != 1 {
		t.Errorf("session write failures = %v, want 1", v)
	}
}

func Test_Recorder_NilSafe(t *testing.T) {
	t.Parallel()
	var r *Recorder
	r.EmbedRequest("ollama", OutcomeError, time.Second)
	r.ChunksSaved(1)
	r.Retrieval("vector", 0)
	r.Answer(AnswerGenerated, 0.5)
	r.SessionWriteFailure()
}
