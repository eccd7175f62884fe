package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadText = "text"
	payloadID   = "doc_id"
)

// QdrantStore 远程向量库，向量由 embed 在本地算好再写入
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	embed      EmbedFunc
}

var _ Store = (*QdrantStore)(nil)

type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

func NewQdrantStore(ctx context.Context, opts QdrantOptions, embed EmbedFunc) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", opts.Host, opts.Port, err)
	}

	exists, err := client.CollectionExists(ctx, opts.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: opts.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(opts.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("create collection %s: %w", opts.Collection, err)
		}
		slog.Info("qdrant collection created", "collection", opts.Collection, "dimension", opts.Dimension)
	}

	slog.Info("vector store loaded", "backend", "qdrant", "host", opts.Host, "collection", opts.Collection)
	return &QdrantStore{client: client, collection: opts.Collection, embed: embed}, nil
}

func (s *QdrantStore) Query(ctx context.Context, text string, topK int, minSimilarity float32) ([]Result, error) {
	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		ScoreThreshold: qdrant.PtrOf(minSimilarity),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		results = append(results, resultFromPayload(p.GetPayload(), p.GetScore()))
	}
	return results, nil
}

func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		vec, err := s.embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", d.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(documentPayload(d)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID qdrant 只接受 UUID 或整数 ID，用文档 ID 派生稳定的 UUID，重复导入会覆盖
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

func documentPayload(d Document) map[string]any {
	payload := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		payload[k] = v
	}
	payload[payloadText] = d.Content
	payload[payloadID] = d.ID
	return payload
}

func resultFromPayload(payload map[string]*qdrant.Value, score float32) Result {
	r := Result{Similarity: score, Metadata: map[string]string{}}
	for k, v := range payload {
		if k == payloadText {
			r.Content = v.GetStringValue()
			continue
		}
		r.Metadata[k] = v.GetStringValue()
	}
	return r
}
