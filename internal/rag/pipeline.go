package rag

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/liao/ragbot/internal/ai"
)

// Generator 流式生成接口，由 ai.Client 实现
type Generator interface {
	GenerateStream(ctx context.Context, systemPrompt string, history []*genai.Content, userMsg string) iter.Seq2[string, error]
}

type Pipeline struct {
	store         Store
	gen           Generator
	enabled       bool
	topK          int
	minSimilarity float32
	systemPrompt  string
}

type PipelineOptions struct {
	Enabled       bool
	TopK          int
	MinSimilarity float32
	SystemPrompt  string
}

// NewPipeline store 为 nil 时退化为纯 LLM 问答
func NewPipeline(store Store, gen Generator, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:         store,
		gen:           gen,
		enabled:       opts.Enabled,
		topK:          opts.TopK,
		minSimilarity: opts.MinSimilarity,
		systemPrompt:  opts.SystemPrompt,
	}
}

// Enabled 是否走检索增强
func (p *Pipeline) Enabled() bool {
	return p.enabled && p.store != nil
}

// Retrieve 根据问题检索相关文档内容
func (p *Pipeline) Retrieve(ctx context.Context, question string) ([]string, error) {
	if !p.Enabled() {
		return nil, nil
	}

	results, err := p.store.Query(ctx, question, p.topK, p.minSimilarity)
	if err != nil {
		return nil, err
	}

	docs := make([]string, 0, len(results))
	for _, r := range results {
		docs = append(docs, r.Content)
	}

	slog.Debug("RAG retrieved documents", "query", question, "count", len(docs))
	return docs, nil
}

// Stream 返回回答的片段序列。检索在开始迭代时才执行，失败时作为序列里的错误返回。
func (p *Pipeline) Stream(ctx context.Context, question string, history []*genai.Content) iter.Seq2[string, error] {
	if !p.Enabled() {
		return p.gen.GenerateStream(ctx, p.systemPrompt, history, question)
	}

	return func(yield func(string, error) bool) {
		docs, err := p.Retrieve(ctx, question)
		if err != nil {
			yield("", fmt.Errorf("retrieve documents: %w", err))
			return
		}
		prompt, err := ai.BuildRAGPrompt(question, docs)
		if err != nil {
			yield("", err)
			return
		}
		for chunk, err := range p.gen.GenerateStream(ctx, p.systemPrompt, history, prompt) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}
