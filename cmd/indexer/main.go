package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liao/ragbot/internal/ai"
	"github.com/liao/ragbot/internal/config"
	"github.com/liao/ragbot/internal/loader"
	"github.com/liao/ragbot/internal/rag"
)

const defaultURL = "https://classmethod.jp/services/generative-ai/ai-starter/"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	urls := flag.String("urls", defaultURL, "comma separated web pages to index")
	files := flag.String("files", "", "comma separated local files (.txt/.md/.html) to index")
	batchSize := flag.Int("batch", 20, "documents per vector store write")
	resume := flag.Bool("resume", true, "resume from the last checkpoint")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 1. 加载文档
	slog.Info("loading started...")
	docs, err := loadDocuments(ctx, splitList(*urls), splitList(*files))
	if err != nil {
		slog.Error("load documents failed", "error", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: indexer [-urls <url,...>] [-files <path,...>] [-config <file>]\n")
		os.Exit(1)
	}
	slog.Info("loading completed!", "documents", len(docs))

	// 2. 切分
	slog.Info("splitting started...")
	chunks, err := loader.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap).Split(docs)
	if err != nil {
		slog.Error("split documents failed", "error", err)
		os.Exit(1)
	}
	slog.Info("splitting completed!", "chunks", len(chunks))

	// 3. 向量化写入
	aiClient, err := ai.NewClient(ctx,
		cfg.Gemini.APIKey,
		cfg.Gemini.ChatModels,
		cfg.Gemini.EmbeddingModel,
		cfg.Gemini.Temperature,
		cfg.Gemini.MaxOutputTokens,
		cfg.Gemini.RPMLimit,
	)
	if err != nil {
		slog.Error("create AI client failed", "error", err)
		os.Exit(1)
	}

	store, err := rag.OpenStore(ctx, cfg.RAG, cfg.Qdrant, aiClient.EmbedFunc())
	if err != nil {
		slog.Error("open vector store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("indexing started...", "backend", cfg.RAG.Backend, "collection", cfg.RAG.Collection)
	progressFile := filepath.Join(cfg.RAG.VectorsDir, ".progress")
	if err := index(ctx, store, chunks, *batchSize, progressFile, *resume); err != nil {
		slog.Error("index failed", "error", err)
		os.Exit(1)
	}

	total, err := store.Count(ctx)
	if err != nil {
		slog.Warn("count vectors failed", "error", err)
	}
	slog.Info("indexing completed!", "total_vectors", total)
}

func loadDocuments(ctx context.Context, urls, files []string) ([]loader.Document, error) {
	var docs []loader.Document

	web := loader.NewWebLoader(30 * time.Second)
	for _, u := range urls {
		d, err := web.Load(ctx, u)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded page", "url", u, "title", d.Title, "chars", len(d.Content))
		docs = append(docs, d)
	}

	for _, f := range files {
		d, err := loader.LoadFile(f)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		slog.Info("loaded file", "path", f, "chars", len(d.Content))
		docs = append(docs, d)
	}
	return docs, nil
}

// index 分批写入，每批后记录进度，中断后可以断点续传
func index(ctx context.Context, store rag.Store, chunks []loader.Chunk, batchSize int, progressFile string, resume bool) error {
	if batchSize <= 0 {
		batchSize = 20
	}
	if err := os.MkdirAll(filepath.Dir(progressFile), 0755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	fp := fingerprint(chunks)
	startFrom := 0
	if resume {
		startFrom = readCheckpoint(progressFile, fp, len(chunks))
	}

	for start := startFrom; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))

		batch := make([]rag.Document, 0, end-start)
		for _, c := range chunks[start:end] {
			batch = append(batch, rag.Document{
				ID:       c.ID(),
				Content:  c.Content,
				Metadata: c.Metadata(),
			})
		}

		slog.Info("indexing", "progress", fmt.Sprintf("%d/%d", end, len(chunks)))
		if err := store.AddDocuments(ctx, batch); err != nil {
			return fmt.Errorf("add documents batch at %d: %w", start, err)
		}
		// 保存进度
		if err := writeCheckpoint(progressFile, end, fp); err != nil {
			slog.Warn("write checkpoint failed", "error", err)
		}
	}

	// 完成后删除进度文件
	os.Remove(progressFile)
	return nil
}

// fingerprint 标识这次导入的输入；输入变了，旧进度就不能用
func fingerprint(chunks []loader.Chunk) string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(ids, "\n"))).String()
}

// 进度文件格式："<已写入的片段数> <fingerprint>"
func writeCheckpoint(path string, offset int, fp string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d %s", offset, fp)), 0644)
}

func readCheckpoint(path, fp string, total int) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 || fields[1] != fp {
		slog.Warn("checkpoint belongs to different input, starting over", "path", path)
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 || n > total {
		return 0
	}
	slog.Info("resuming from checkpoint", "start", n)
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
