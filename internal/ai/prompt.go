package ai

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// RAGPromptTemplate 通用的 RAG 问答模板（rlm/rag-prompt）
const RAGPromptTemplate = `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.
Question: {{.question}}
Context: {{.context}}
Answer:`

var ragPrompt = prompts.NewPromptTemplate(RAGPromptTemplate, []string{"context", "question"})

// FormatDocs 用空行拼接检索到的文档
func FormatDocs(docs []string) string {
	return strings.Join(docs, "\n\n")
}

// BuildRAGPrompt 把检索结果和问题填进模板
func BuildRAGPrompt(question string, docs []string) (string, error) {
	out, err := ragPrompt.Format(map[string]any{
		"context":  FormatDocs(docs),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("format rag prompt: %w", err)
	}
	return out, nil
}
