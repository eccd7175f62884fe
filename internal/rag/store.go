package rag

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// EmbedFunc 文本向量化函数
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store 向量库的最小接口，chromem 和 qdrant 各有一个实现
type Store interface {
	Query(ctx context.Context, text string, topK int, minSimilarity float32) ([]Result, error)
	AddDocuments(ctx context.Context, docs []Document) error
	Count(ctx context.Context) (int, error)
	Close() error
}

type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

type Result struct {
	Content    string
	Similarity float32
	Metadata   map[string]string
}

// ChromemStore 本地持久化向量库
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore 创建或加载向量存储；dir 为空时只在内存中
func NewChromemStore(dir, collection string, embedFunc EmbedFunc) (*ChromemStore, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, chromem.EmbeddingFunc(embedFunc))
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}

	slog.Info("vector store loaded", "backend", "chromem", "dir", dir, "count", col.Count())
	return &ChromemStore{db: db, collection: col}, nil
}

// Query 检索相似文档
func (s *ChromemStore) Query(ctx context.Context, text string, topK int, minSimilarity float32) ([]Result, error) {
	if s.collection.Count() == 0 {
		return nil, nil
	}

	k := topK
	if k > s.collection.Count() {
		k = s.collection.Count()
	}

	docs, err := s.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	var results []Result
	for _, d := range docs {
		if d.Similarity < minSimilarity {
			continue
		}
		results = append(results, Result{
			Content:    d.Content,
			Similarity: d.Similarity,
			Metadata:   d.Metadata,
		})
	}
	return results, nil
}

// AddDocuments 批量写入文档
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) error {
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		cdocs = append(cdocs, chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}
	return s.collection.AddDocuments(ctx, cdocs, runtime.NumCPU())
}

func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *ChromemStore) Close() error { return nil }
