package rag

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	gotPrompt string
	gotSystem string
	chunks    []string
}

func (g *fakeGenerator) GenerateStream(_ context.Context, systemPrompt string, _ []*genai.Content, userMsg string) iter.Seq2[string, error] {
	g.gotPrompt = userMsg
	g.gotSystem = systemPrompt
	return func(yield func(string, error) bool) {
		for _, c := range g.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type fakeStore struct {
	results []Result
	err     error
}

func (s *fakeStore) Query(context.Context, string, int, float32) ([]Result, error) {
	return s.results, s.err
}
func (s *fakeStore) AddDocuments(context.Context, []Document) error { return nil }
func (s *fakeStore) Count(context.Context) (int, error)             { return len(s.results), nil }
func (s *fakeStore) Close() error                                   { return nil }

func collect(t *testing.T, seq iter.Seq2[string, error]) (string, error) {
	t.Helper()
	var b strings.Builder
	for c, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

func TestPipeline_PlainLLM(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"hel", "lo"}}
	p := NewPipeline(&fakeStore{}, gen, PipelineOptions{Enabled: false, SystemPrompt: "sys"})

	out, err := collect(t, p.Stream(context.Background(), "question", nil))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "question", gen.gotPrompt)
	assert.Equal(t, "sys", gen.gotSystem)
}

func TestPipeline_RAG(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"ok"}}
	store := &fakeStore{results: []Result{{Content: "doc A"}, {Content: "doc B"}}}
	p := NewPipeline(store, gen, PipelineOptions{Enabled: true, TopK: 2})

	out, err := collect(t, p.Stream(context.Background(), "what?", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Contains(t, gen.gotPrompt, "Question: what?")
	assert.Contains(t, gen.gotPrompt, "doc A\n\ndoc B")
}

func TestPipeline_NilStoreFallsBack(t *testing.T) {
	gen := &fakeGenerator{}
	p := NewPipeline(nil, gen, PipelineOptions{Enabled: true})

	assert.False(t, p.Enabled())
	_, err := collect(t, p.Stream(context.Background(), "q", nil))
	require.NoError(t, err)
	assert.Equal(t, "q", gen.gotPrompt)
}

func TestPipeline_RetrieveErrorIsYielded(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"never"}}
	p := NewPipeline(&fakeStore{err: errors.New("down")}, gen, PipelineOptions{Enabled: true})

	out, err := collect(t, p.Stream(context.Background(), "q", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Empty(t, out)
	assert.Empty(t, gen.gotPrompt)
}
