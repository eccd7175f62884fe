package loader

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter 递归字符切分
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Split 把文档切成片段，空白片段丢弃
func (s *Splitter) Split(docs []Document) ([]Chunk, error) {
	var chunks []Chunk
	for _, d := range docs {
		parts, err := s.inner.SplitText(d.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", d.Source, err)
		}
		idx := 0
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Source:  d.Source,
				Title:   d.Title,
				Index:   idx,
				Content: p,
			})
			idx++
		}
	}
	return chunks, nil
}
