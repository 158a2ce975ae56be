package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pagerag/internal/budget"
	"github.com/54b3r/pagerag/internal/errs"
	"github.com/54b3r/pagerag/internal/logging"
	"github.com/54b3r/pagerag/internal/metrics"
)

// NoInformationAnswer is returned, without calling the model, when no
// retrieved chunk fits the context budget.
const NoInformationAnswer = "죄송합니다. 이 페이지의 내용에서 질문과 관련된 정보를 찾을 수 없습니다."

// systemPrompt grounds the model in the numbered context passages.
const systemPrompt = `You are a study assistant for a single learning page.
Answer the learner's question using only the numbered context passages supplied
with the question. Cite passages by their number, e.g. [1], when you use them.

Rules:
- If the passages do not contain the answer, say that you cannot find it in this page.
- Do not add facts that are not in the passages.
- Answer in the same language as the question.
- Be concise and explain step by step when the question asks how or why.`

// GeneratorConfig holds generation parameters.
type GeneratorConfig struct {
	// MaxContextLength is the context budget in characters (default 4000).
	MaxContextLength int
	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
	// Temperature is the sampling temperature. Nil leaves the provider default.
	Temperature *float32
}

// Generator turns a retrieval into an Answer using a chat model.
type Generator struct {
	model   model.BaseChatModel
	cfg     GeneratorConfig
	log     *slog.Logger
	metrics *metrics.Recorder
}

// NewGenerator constructs a Generator. rec may be nil.
func NewGenerator(m model.BaseChatModel, cfg GeneratorConfig, log *slog.Logger, rec *metrics.Recorder) *Generator {
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = budget.DefaultMaxContextLength
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{model: m, cfg: cfg, log: log, metrics: rec}
}

// AssembleContext keeps the longest prefix of the retrieval whose combined
// content length fits maxChars. Chunks are never truncated and the scan stops
// at the first chunk that does not fit.
func AssembleContext(pageID, query string, r *Retrieval, maxChars int) Context {
	out := Context{PageID: pageID, Query: query}
	if r == nil {
		return out
	}
	lengths := make([]int, len(r.Chunks))
	for i, c := range r.Chunks {
		lengths[i] = budget.Chars(c.Content)
	}
	n := budget.Fit(lengths, maxChars)
	out.Chunks = r.Chunks[:n:n]
	out.TotalRetrieved = len(r.Chunks)
	out.Strategy = r.Strategy
	return out
}

// Sources labels each context chunk by its section, or "Chunk N" when it has
// none. Duplicate labels are collapsed, keeping first-seen order.
func Sources(chunks []RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		label := c.Metadata.Section
		if label == "" {
			label = fmt.Sprintf("Chunk %d", c.ChunkIndex+1)
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// Answer builds the context for r and asks the model to answer query from it.
// When the context is empty the model is not called and a fixed no-information
// answer with zero confidence is returned.
func (g *Generator) Answer(ctx context.Context, pageID, query string, r *Retrieval) (*Answer, error) {
	const op = "rag.generate"

	pc := AssembleContext(pageID, query, r, g.cfg.MaxContextLength)
	if len(pc.Chunks) == 0 {
		g.metrics.Answer(metrics.AnswerNoContext, 0)
		return &Answer{
			Answer:     NoInformationAnswer,
			Context:    pc,
			Confidence: 0,
			Sources:    []string{},
			Reasoning:  noContextReasoning(pc),
		}, nil
	}

	if g.model == nil {
		g.metrics.Answer(metrics.AnswerError, 0)
		return nil, errs.Configuration(op, errors.New("chat model is not configured"))
	}

	var opts []model.Option
	if g.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(g.cfg.MaxTokens))
	}
	if g.cfg.Temperature != nil {
		opts = append(opts, model.WithTemperature(*g.cfg.Temperature))
	}

	msg, err := g.model.Generate(ctx, buildMessages(pc), opts...)
	if err != nil {
		g.metrics.Answer(metrics.AnswerError, 0)
		return nil, errs.ProviderRequest(op, 0, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		g.metrics.Answer(metrics.AnswerError, 0)
		return nil, errs.MalformedResponse(op, errors.New("model returned an empty completion"))
	}

	text := strings.TrimSpace(msg.Content)
	conf := AssessConfidence(text, pc.Chunks)
	g.metrics.Answer(metrics.AnswerGenerated, conf)

	logging.FromContext(ctx).Debug("rag: answer generated",
		slog.String("page_id", pageID),
		slog.Int("context_chunks", len(pc.Chunks)),
		slog.Int("retrieved", pc.TotalRetrieved),
		slog.Float64("confidence", conf),
	)

	return &Answer{
		Answer:     text,
		Context:    pc,
		Confidence: conf,
		Sources:    Sources(pc.Chunks),
		Reasoning:  reasoning(pc),
	}, nil
}

func buildMessages(pc Context) []*schema.Message {
	var sb strings.Builder
	sb.WriteString("## Context\n\n")
	for i, c := range pc.Chunks {
		if c.Metadata.Section != "" {
			fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, c.Metadata.Section, c.Content)
		} else {
			fmt.Fprintf(&sb, "[%d]\n%s\n\n", i+1, c.Content)
		}
	}
	sb.WriteString("## Question\n\n")
	sb.WriteString(pc.Query)

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(sb.String()),
	}
}

func reasoning(pc Context) string {
	s := fmt.Sprintf("Answered from %d of %d retrieved chunks (%s search).",
		len(pc.Chunks), pc.TotalRetrieved, pc.Strategy)
	if pc.Strategy == StrategyLexical {
		s += " Vector search was unavailable; similarities are lexical overlap scores."
	}
	return s
}

func noContextReasoning(pc Context) string {
	if pc.TotalRetrieved == 0 {
		return "No chunk of this page exceeded the similarity threshold."
	}
	return fmt.Sprintf("%d chunks were retrieved but none fit the context length budget.", pc.TotalRetrieved)
}
