package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pagerag/internal/errs"
)

// fakeStore is a scripted ChunkStore.
type fakeStore struct {
	hits      []RetrievedChunk
	searchErr error
	chunks    []Chunk
	findErr   error

	findLimit int
	findCalls int
}

func (f *fakeStore) Save(context.Context, Chunk) error          { return nil }
func (f *fakeStore) DeleteByPage(context.Context, string) error { return nil }
func (f *fakeStore) Close() error                               { return nil }
func (f *fakeStore) Search(context.Context, string, []float32, float64, int) ([]RetrievedChunk, error) {
	return f.hits, f.searchErr
}
func (f *fakeStore) FindByPage(_ context.Context, _ string, limit int) ([]Chunk, error) {
	f.findCalls++
	f.findLimit = limit
	if f.findErr != nil {
		return nil, f.findErr
	}
	if limit > 0 && limit < len(f.chunks) {
		return f.chunks[:limit], nil
	}
	return f.chunks, nil
}

// fakeModel is a scripted chat model that records its last call.
type fakeModel struct {
	reply *schema.Message
	err   error

	calls int
	input []*schema.Message
	opts  *model.Options
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	m.input = input
	m.opts = model.GetCommonOptions(nil, opts...)
	return m.reply, m.err
}

func (m *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRetrieve_VectorPath(t *testing.T) {
	t.Parallel()

	store := &fakeStore{hits: []RetrievedChunk{{ID: "a", Similarity: 0.9}, {ID: "b", Similarity: 0.8}}}
	r := NewRetriever(store, RetrieverConfig{SimilarityThreshold: 0.7, TopK: 5}, nil, nil)

	got, err := r.Retrieve(context.Background(), "p1", "q", []float32{1, 0}, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.Strategy != StrategyVector {
		t.Errorf("strategy: got %q, want vector", got.Strategy)
	}
	if len(got.Chunks) != 2 || got.Chunks[0].Degraded {
		t.Errorf("chunks: got %+v", got.Chunks)
	}
	if store.findCalls != 0 {
		t.Errorf("fallback ran on a successful search")
	}
}

func TestRetrieve_EmptySearchDoesNotFallBack(t *testing.T) {
	t.Parallel()

	store := &fakeStore{chunks: []Chunk{{ID: "a", ChunkText: "q"}}}
	r := NewRetriever(store, RetrieverConfig{SimilarityThreshold: 0.7}, nil, nil)

	got, err := r.Retrieve(context.Background(), "p1", "q", []float32{1}, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got.Chunks) != 0 || got.Strategy != StrategyVector {
		t.Errorf("got %+v, want empty vector result", got)
	}
	if store.findCalls != 0 {
		t.Errorf("fallback ran on an empty search")
	}
}

func TestRetrieve_LexicalFallback(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		searchErr: errs.Persistence("search", errors.New("index offline")),
		chunks: []Chunk{
			{ID: "c0", ChunkIndex: 0, ChunkText: "Course overview and grading policy."},
			{ID: "c1", ChunkIndex: 1, ChunkText: "Go channels carry typed values between goroutines."},
			{ID: "c2", ChunkIndex: 2, ChunkText: "Buffered channels in Go have a capacity."},
			{ID: "c3", ChunkIndex: 3, ChunkText: "Goroutines are cheap."},
		},
	}
	r := NewRetriever(store, RetrieverConfig{SimilarityThreshold: 0.7}, nil, nil)

	got, err := r.Retrieve(context.Background(), "p1", "Go channels", nil, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.findLimit != 4 {
		t.Errorf("fallback limit: got %d, want 2*topK=4", store.findLimit)
	}
	if got.Strategy != StrategyLexical {
		t.Errorf("strategy: got %q, want lexical", got.Strategy)
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("chunks: got %d, want 2: %+v", len(got.Chunks), got.Chunks)
	}
	for i, want := range []string{"c1", "c2"} {
		c := got.Chunks[i]
		if c.ID != want || !c.Degraded || c.Similarity != 1 {
			t.Errorf("chunk %d: got %+v, want %s degraded with score 1", i, c, want)
		}
	}
}

func TestRetrieve_BothPathsFail(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		searchErr: errs.Persistence("search", errors.New("down")),
		findErr:   errs.Persistence("find", errors.New("down")),
	}
	r := NewRetriever(store, RetrieverConfig{}, nil, nil)

	_, err := r.Retrieve(context.Background(), "p1", "q", nil, 1)
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("got %v, want persistence error", err)
	}
}

func TestRetrieve_CanceledSkipsFallback(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &fakeStore{searchErr: context.Canceled}
	r := NewRetriever(store, RetrieverConfig{}, nil, nil)

	if _, err := r.Retrieve(ctx, "p1", "q", nil, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if store.findCalls != 0 {
		t.Error("fallback ran after cancellation")
	}
}

func TestLexicalScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"all terms", "Go channels", "Channels in Go are typed conduits.", 1},
		{"half the terms", "go mutex", "Go channels", 0.5},
		{"case insensitive", "GOROUTINE", "a goroutine", 1},
		{"hangul particle", "인공지능 정의", "인공지능은 컴퓨터 과학의 한 분야이다", 0.5},
		{"hangul both ways", "인공지능은 무엇인가", "인공지능 개요와 무엇인가에 대한 답", 1},
		{"single syllable needs exact match", "한국 줄", "한국어 줄임말", 0.5},
		{"latin has no prefix match", "chan", "channels", 0},
		{"empty query", "", "anything", 0},
		{"punctuation only", "?!", "anything", 0},
		{"empty text", "go", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := LexicalScore(tt.query, tt.text); !approx(got, tt.want) {
				t.Errorf("LexicalScore(%q, %q) = %v, want %v", tt.query, tt.text, got, tt.want)
			}
		})
	}
}

func TestAssembleContext(t *testing.T) {
	t.Parallel()

	chunk := func(id string, n int) RetrievedChunk {
		return RetrievedChunk{ID: id, Content: strings.Repeat("가", n)}
	}

	tests := []struct {
		name   string
		chunks []RetrievedChunk
		max    int
		want   []string
	}{
		{"two of three fit", []RetrievedChunk{chunk("a", 1500), chunk("b", 1500), chunk("c", 1500)}, 4000, []string{"a", "b"}},
		{"exact fit", []RetrievedChunk{chunk("a", 2000), chunk("b", 2000)}, 4000, []string{"a", "b"}},
		{"first too long", []RetrievedChunk{chunk("a", 4500), chunk("b", 10)}, 4000, nil},
		{"stops at first overflow", []RetrievedChunk{chunk("a", 3000), chunk("b", 1500), chunk("c", 10)}, 4000, []string{"a"}},
		{"empty retrieval", nil, 4000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AssembleContext("p1", "q", &Retrieval{Chunks: tt.chunks, Strategy: StrategyVector}, tt.max)
			if got.TotalRetrieved != len(tt.chunks) {
				t.Errorf("TotalRetrieved: got %d, want %d", got.TotalRetrieved, len(tt.chunks))
			}
			if len(got.Chunks) != len(tt.want) {
				t.Fatalf("chunks: got %d, want %d", len(got.Chunks), len(tt.want))
			}
			for i, id := range tt.want {
				if got.Chunks[i].ID != id {
					t.Errorf("chunk %d: got %s, want %s", i, got.Chunks[i].ID, id)
				}
			}
		})
	}
}

func TestAssessConfidence(t *testing.T) {
	t.Parallel()

	sims := func(vals ...float64) []RetrievedChunk {
		out := make([]RetrievedChunk, len(vals))
		for i, v := range vals {
			out[i] = RetrievedChunk{Similarity: v}
		}
		return out
	}

	tests := []struct {
		name   string
		answer string
		chunks []RetrievedChunk
		want   float64
	}{
		{"short answer, three strong chunks", "짧은 답변입니다.", sims(0.9, 0.9, 0.9), 0.7},
		{"medium answer", strings.Repeat("a", 150), sims(0.7), 0.6},
		{"long answer", strings.Repeat("a", 301), sims(0.7), 0.7},
		{"hedged english", "I'm not sure about this.", sims(0.7), 0.25},
		{"hedged korean", "잘 모르겠습니다.", sims(0.7), 0.25},
		{"no chunks", "answer", nil, 0.15},
		{"clamped high", strings.Repeat("a", 400), sims(1, 1, 1, 1, 1), 1},
		{"clamped low", "unclear", sims(-1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AssessConfidence(tt.answer, tt.chunks); !approx(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSources(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		{ChunkIndex: 4, Metadata: ChunkMetadata{SegmentMetadata: SegmentMetadata{Section: "1. 개요"}}},
		{ChunkIndex: 0},
		{ChunkIndex: 5, Metadata: ChunkMetadata{SegmentMetadata: SegmentMetadata{Section: "1. 개요"}}},
	}
	got := Sources(chunks)
	want := []string{"1. 개요", "Chunk 1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGenerator_Answer(t *testing.T) {
	t.Parallel()

	temp := float32(0.2)
	m := &fakeModel{reply: schema.AssistantMessage("  채널은 고루틴 사이에서 값을 전달합니다 [1].  ", nil)}
	g := NewGenerator(m, GeneratorConfig{MaxTokens: 256, Temperature: &temp}, nil, nil)

	r := &Retrieval{
		Strategy: StrategyVector,
		Chunks: []RetrievedChunk{
			{ID: "a", Content: "채널은 타입이 있는 통로입니다.", Similarity: 0.9, Metadata: ChunkMetadata{SegmentMetadata: SegmentMetadata{Section: "채널"}}},
			{ID: "b", Content: "고루틴은 가볍습니다.", ChunkIndex: 3, Similarity: 0.8},
		},
	}
	ans, err := g.Answer(context.Background(), "p1", "채널이란?", r)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("model calls: got %d, want 1", m.calls)
	}
	if ans.Answer != "채널은 고루틴 사이에서 값을 전달합니다 [1]." {
		t.Errorf("answer not trimmed: %q", ans.Answer)
	}
	if want := AssessConfidence(ans.Answer, r.Chunks); !approx(ans.Confidence, want) {
		t.Errorf("confidence: got %v, want %v", ans.Confidence, want)
	}
	if strings.Join(ans.Sources, "|") != "채널|Chunk 4" {
		t.Errorf("sources: got %v", ans.Sources)
	}
	if ans.Context.TotalRetrieved != 2 || len(ans.Context.Chunks) != 2 {
		t.Errorf("context: got %+v", ans.Context)
	}

	if len(m.input) != 2 || m.input[0].Role != schema.System || m.input[1].Role != schema.User {
		t.Fatalf("messages: got %+v", m.input)
	}
	user := m.input[1].Content
	for _, want := range []string{"[1] (채널)", "[2]\n고루틴은", "채널이란?"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
	if m.opts.MaxTokens == nil || *m.opts.MaxTokens != 256 {
		t.Errorf("max tokens option not passed")
	}
	if m.opts.Temperature == nil || *m.opts.Temperature != temp {
		t.Errorf("temperature option not passed")
	}
}

func TestGenerator_NoContextSkipsModel(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: schema.AssistantMessage("unused", nil)}
	g := NewGenerator(m, GeneratorConfig{MaxContextLength: 10}, nil, nil)

	for name, r := range map[string]*Retrieval{
		"nothing retrieved": {Strategy: StrategyVector},
		"nothing fits":      {Strategy: StrategyVector, Chunks: []RetrievedChunk{{Content: strings.Repeat("x", 11), Similarity: 0.9}}},
	} {
		ans, err := g.Answer(context.Background(), "p1", "q", r)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if ans.Answer != NoInformationAnswer || ans.Confidence != 0 || len(ans.Sources) != 0 {
			t.Errorf("%s: got %+v", name, ans)
		}
		if ans.Context.TotalRetrieved != len(r.Chunks) {
			t.Errorf("%s: TotalRetrieved got %d", name, ans.Context.TotalRetrieved)
		}
	}
	if m.calls != 0 {
		t.Errorf("model was called %d times", m.calls)
	}
}

func TestGenerator_Errors(t *testing.T) {
	t.Parallel()

	r := &Retrieval{Strategy: StrategyVector, Chunks: []RetrievedChunk{{Content: "c", Similarity: 0.9}}}

	tests := []struct {
		name  string
		model model.BaseChatModel
		want  error
	}{
		{"provider failure", &fakeModel{err: errors.New("503")}, errs.ErrProviderRequest},
		{"empty completion", &fakeModel{reply: schema.AssistantMessage("   ", nil)}, errs.ErrMalformedResponse},
		{"nil completion", &fakeModel{}, errs.ErrMalformedResponse},
		{"no model", nil, errs.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(tt.model, GeneratorConfig{}, nil, nil)
			if _, err := g.Answer(context.Background(), "p1", "q", r); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	if got := ComputeStats(nil); got != (Stats{}) {
		t.Errorf("empty: got %+v", got)
	}
	got := ComputeStats([]Chunk{{ChunkText: "가나다라"}, {ChunkText: "abcdef"}})
	want := Stats{TotalChunks: 2, AvgChunkLength: 5, TotalTokens: 8}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestChunkMetadataMapRoundTrip(t *testing.T) {
	t.Parallel()

	rt, wc := 2, 310
	in := ChunkMetadata{
		SegmentID: "s1", ChunkInSegment: 1, TotalChunksInSegment: 3,
		SegmentMetadata: SegmentMetadata{
			PageNumber: 2, Section: "개요", EstimatedReadTime: &rt, WordCount: &wc,
			Difficulty: DifficultyMedium, Source: "file",
		},
	}
	out := ChunkMetadataFromMap(in.Map())
	if out.SegmentID != "s1" || out.ChunkInSegment != 1 || out.TotalChunksInSegment != 3 ||
		out.PageNumber != 2 || out.Section != "개요" || out.Difficulty != DifficultyMedium || out.Source != "file" {
		t.Errorf("got %+v", out)
	}
	if out.EstimatedReadTime == nil || *out.EstimatedReadTime != 2 || out.WordCount == nil || *out.WordCount != 310 {
		t.Errorf("optional counts lost: %+v", out)
	}

	bare := ChunkMetadataFromMap(ChunkMetadata{SegmentID: "s"}.Map())
	if bare.EstimatedReadTime != nil || bare.WordCount != nil {
		t.Errorf("absent counts should stay nil: %+v", bare)
	}
}
