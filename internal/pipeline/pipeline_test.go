package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageqa/backend/internal/domain"
	"github.com/pageqa/backend/internal/prompt"
)

const page = "aaaaa bbbbb ccccc"

type stubFetcher struct {
	text string
	err  error
}

func (f *stubFetcher) FetchText(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

// letterEmbedder maps a text to a one-hot vector per marker word it contains.
type letterEmbedder struct {
	buildErr   error
	queryErr   error
	queryCalls atomic.Int32
}

func letterVector(text string) []float32 {
	v := make([]float32, 3)
	for i, marker := range []string{"aaaaa", "bbbbb", "ccccc"} {
		if strings.Contains(text, marker) {
			v[i] = 1
		}
	}
	return v
}

func (e *letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = letterVector(text)
	}
	return out, nil
}

func (e *letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.queryCalls.Add(1)
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return letterVector(text), nil
}

type stubGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	block   bool
	prompts []domain.Prompt
}

func (g *stubGenerator) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	answer, err, block := g.answer, g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return answer, err
}

func (g *stubGenerator) set(answer string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answer, g.err = answer, err
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *stubGenerator) lastPrompt() domain.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []AskResult
	err     error
}

func (r *memoryRecorder) RecordAsk(_ context.Context, _ string, result AskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, result)
	return r.err
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ChunkSize = 6
	opts.ChunkOverlap = 0
	opts.TopK = 1
	opts.EmbedTimeout = time.Second
	opts.GenerateTimeout = time.Second
	return opts
}

func newReady(t *testing.T, gen *stubGenerator, options ...Option) (*Pipeline, *letterEmbedder) {
	t.Helper()
	emb := &letterEmbedder{}
	p, err := New(&stubFetcher{text: page}, emb, gen, testOptions(), options...)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), "https://example.com/page"))
	require.Equal(t, StateReady, p.State())
	return p, emb
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{name: "zero size", modify: func(o *Options) { o.ChunkSize = 0 }},
		{name: "overlap equals size", modify: func(o *Options) { o.ChunkOverlap = o.ChunkSize }},
		{name: "negative overlap", modify: func(o *Options) { o.ChunkOverlap = -1 }},
		{name: "negative topK", modify: func(o *Options) { o.TopK = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)

			p, err := New(&stubFetcher{}, &letterEmbedder{}, &stubGenerator{}, opts)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestInitialize_ChunksAreDocumentOrdered(t *testing.T) {
	opts := testOptions()
	opts.ChunkSize = 4
	opts.ChunkOverlap = 1

	p, err := New(&stubFetcher{text: "A. B. C."}, &letterEmbedder{}, &stubGenerator{}, opts)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), "u"))

	snap, err := p.DebugSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "A. B. C.", snap.Raw)
	assert.Equal(t, []string{"A. B", "B. C", "C."}, snap.Chunks)
}

func TestAsk_ExactMatchGroundsPrompt(t *testing.T) {
	gen := &stubGenerator{answer: "It is ccccc."}
	p, _ := newReady(t, gen)

	res := p.Ask(context.Background(), "tell me about ccccc")

	require.True(t, res.OK())
	assert.Equal(t, "It is ccccc.", res.Answer)
	assert.Empty(t, res.Error)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.NotEmpty(t, res.ID)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, 2, res.Sources[0].Chunk.ID)
	assert.InDelta(t, 1.0, res.Sources[0].Score, 1e-6)

	pr := gen.lastPrompt()
	assert.Contains(t, pr.Context, "ccccc")
	assert.NotContains(t, pr.Context, "aaaaa")
	assert.NotContains(t, pr.Context, "bbbbb")
	assert.Equal(t, []int{2}, pr.ChunkIDs)
	assert.Equal(t, "tell me about ccccc", pr.Input)
}

func TestAsk_PromptKeepsVerbatimQuestion(t *testing.T) {
	gen := &stubGenerator{answer: "It is ccccc."}
	p, _ := newReady(t, gen)

	question := "  tell me about ccccc?\n"
	res := p.Ask(context.Background(), question)

	require.True(t, res.OK())
	pr := gen.lastPrompt()
	assert.Equal(t, question, pr.Input)
	assert.Equal(t, []int{2}, pr.ChunkIDs)
}

func TestAsk_GenerationFailureIsLocal(t *testing.T) {
	gen := &stubGenerator{err: domain.ErrGenerationUnavailable}
	p, _ := newReady(t, gen)

	failed := p.Ask(context.Background(), "about bbbbb")
	assert.False(t, failed.OK())
	assert.Equal(t, MsgAnswerUnavailable, failed.Error)
	assert.Empty(t, failed.Answer)
	assert.ErrorIs(t, failed.Err, domain.ErrGenerationUnavailable)
	assert.Equal(t, StateReady, p.State())

	gen.set("bbbbb it is", nil)

	ok := p.Ask(context.Background(), "about bbbbb")
	require.True(t, ok.OK())
	assert.Equal(t, "bbbbb it is", ok.Answer)
}

func TestAsk_UnclassifiedGeneratorErrorIsWrapped(t *testing.T) {
	gen := &stubGenerator{err: errors.New("socket closed")}
	p, _ := newReady(t, gen)

	res := p.Ask(context.Background(), "about aaaaa")
	assert.ErrorIs(t, res.Err, domain.ErrGenerationUnavailable)
}

func TestAsk_GenerationTimeout(t *testing.T) {
	gen := &stubGenerator{block: true}
	emb := &letterEmbedder{}
	opts := testOptions()
	opts.GenerateTimeout = 20 * time.Millisecond

	p, err := New(&stubFetcher{text: page}, emb, gen, opts)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), "u"))

	res := p.Ask(context.Background(), "about aaaaa")
	assert.ErrorIs(t, res.Err, domain.ErrGenerationUnavailable)
	assert.Equal(t, MsgAnswerUnavailable, res.Error)
	assert.Equal(t, StateReady, p.State())
}

func TestAsk_EmptyAnswerFallsBack(t *testing.T) {
	gen := &stubGenerator{answer: "   "}
	p, _ := newReady(t, gen)

	res := p.Ask(context.Background(), "about aaaaa")
	require.True(t, res.OK())
	assert.Equal(t, NoAnswer, res.Answer)
	assert.Equal(t, StatusNoAnswer, res.Status)
}

func TestAsk_EmbeddingFailureDuringQuery(t *testing.T) {
	gen := &stubGenerator{answer: "x"}
	p, emb := newReady(t, gen)
	emb.queryErr = errors.New("quota exceeded")

	res := p.Ask(context.Background(), "about aaaaa")
	assert.ErrorIs(t, res.Err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, MsgProcessingFailed, res.Error)
	assert.Zero(t, gen.calls())
	assert.Equal(t, StateReady, p.State())
}

func TestInitialize_EmbeddingFailureRejectsQuestions(t *testing.T) {
	emb := &letterEmbedder{buildErr: errors.New("embedding API down")}
	gen := &stubGenerator{answer: "never"}

	p, err := New(&stubFetcher{text: page}, emb, gen, testOptions())
	require.NoError(t, err)

	err = p.Initialize(context.Background(), "u")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, StateFailed, p.State())
	assert.ErrorIs(t, p.Err(), domain.ErrEmbeddingUnavailable)

	res := p.Ask(context.Background(), "about aaaaa")
	assert.ErrorIs(t, res.Err, domain.ErrNotReady)
	assert.Equal(t, MsgFailed, res.Error)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Zero(t, emb.queryCalls.Load())
	assert.Zero(t, gen.calls())

	_, err = p.DebugSnapshot()
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestInitialize_FetchFailure(t *testing.T) {
	p, err := New(&stubFetcher{err: errors.New("dns")}, &letterEmbedder{}, &stubGenerator{}, testOptions())
	require.NoError(t, err)

	err = p.Initialize(context.Background(), "u")
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.Equal(t, StateFailed, p.State())
}

func TestInitialize_OnlyOnce(t *testing.T) {
	p, _ := newReady(t, &stubGenerator{})

	err := p.Initialize(context.Background(), "u")
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	assert.Equal(t, StateReady, p.State())
}

func TestAsk_BeforeInitialize(t *testing.T) {
	emb := &letterEmbedder{}
	p, err := New(&stubFetcher{text: page}, emb, &stubGenerator{}, testOptions())
	require.NoError(t, err)

	res := p.Ask(context.Background(), "about aaaaa")
	assert.ErrorIs(t, res.Err, domain.ErrNotReady)
	assert.Equal(t, MsgNotReady, res.Error)
	assert.Zero(t, emb.queryCalls.Load())

	_, err = p.DebugSnapshot()
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestAsk_InvalidQuestions(t *testing.T) {
	p, emb := newReady(t, &stubGenerator{answer: "x"})

	empty := p.Ask(context.Background(), "  \n ")
	assert.ErrorIs(t, empty.Err, domain.ErrEmptyQuestion)
	assert.Equal(t, MsgEmptyQuestion, empty.Error)

	long := p.Ask(context.Background(), strings.Repeat("q", testOptions().MaxQuestionLen+1))
	assert.ErrorIs(t, long.Err, domain.ErrQuestionTooLong)

	assert.Zero(t, emb.queryCalls.Load())
}

func TestAsk_EmptyPageUsesNoContextMarker(t *testing.T) {
	gen := &stubGenerator{answer: "I do not know."}
	p, err := New(&stubFetcher{text: "   "}, &letterEmbedder{}, gen, testOptions())
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), "u"))

	res := p.Ask(context.Background(), "anything")
	require.True(t, res.OK())
	assert.Empty(t, res.Sources)

	pr := gen.lastPrompt()
	assert.True(t, pr.NoContext)
	assert.Equal(t, prompt.NoContext, pr.Context)
}

func TestAsk_RecordsHistory(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("disk full")}
	p, _ := newReady(t, &stubGenerator{answer: "yes"}, WithRecorder(rec))

	res := p.Ask(context.Background(), "about aaaaa")
	require.True(t, res.OK())

	p.Ask(context.Background(), "")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, res.ID, rec.entries[0].ID)
	assert.Equal(t, StatusAnswered, rec.entries[0].Status)
}

func TestPipelines_AreIndependent(t *testing.T) {
	first, _ := newReady(t, &stubGenerator{answer: "one"})

	second, err := New(&stubFetcher{err: errors.New("offline")}, &letterEmbedder{}, &stubGenerator{}, testOptions())
	require.NoError(t, err)
	_ = second.Initialize(context.Background(), "u")

	assert.Equal(t, StateReady, first.State())
	assert.Equal(t, StateFailed, second.State())
	assert.Equal(t, "one", first.Ask(context.Background(), "about aaaaa").Answer)
}

func TestAsk_Concurrent(t *testing.T) {
	gen := &stubGenerator{answer: "fine"}
	p, _ := newReady(t, gen)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Ask(context.Background(), "about ccccc")
			assert.Equal(t, "fine", res.Answer)
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, gen.calls())
	assert.Equal(t, StateReady, p.State())
}
