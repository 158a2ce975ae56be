package embedder

import (
	"log/slog"
	"math"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
	"solar",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

func warnIfChatModel(log *slog.Logger, model string) {
	if model == "" || !looksLikeChatModel(model) {
		return
	}
	log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
		"this will likely produce poor or broken embeddings",
		slog.String("model", model),
		slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
	)
}

// ValidateEmbedding reports whether vec is usable: non-empty with every
// component finite. A length different from dim (when dim > 0) or an all-zero
// vector is logged as a warning but does not invalidate the vector, so
// provider-side drift degrades search instead of failing ingestion. Stores
// never return zero-norm chunks since their cosine similarity is undefined.
func ValidateEmbedding(vec []float32, dim int, log *slog.Logger) bool {
	if len(vec) == 0 {
		return false
	}
	zero := true
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if v != 0 {
			zero = false
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if dim > 0 && len(vec) != dim {
		log.Warn("embedder: embedding dimension mismatch",
			slog.Int("expected", dim),
			slog.Int("actual", len(vec)),
		)
	}
	if zero {
		log.Warn("embedder: zero-norm embedding, chunk will not match any query",
			slog.Int("dimensions", len(vec)),
		)
	}
	return true
}
