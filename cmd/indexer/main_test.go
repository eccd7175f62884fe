package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/ragbot/internal/loader"
	"github.com/liao/ragbot/internal/rag"
)

type memStore struct {
	batches [][]rag.Document
	failAt  int // 第几批失败，0 表示不失败
}

func (s *memStore) Query(context.Context, string, int, float32) ([]rag.Result, error) {
	return nil, nil
}

func (s *memStore) AddDocuments(_ context.Context, docs []rag.Document) error {
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return errors.New("boom")
	}
	s.batches = append(s.batches, docs)
	return nil
}

func (s *memStore) Count(context.Context) (int, error) {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

func makeChunks(n int) []loader.Chunk {
	chunks := make([]loader.Chunk, n)
	for i := range chunks {
		chunks[i] = loader.Chunk{Source: "page", Index: i, Content: "text"}
	}
	return chunks
}

func TestIndex_Batches(t *testing.T) {
	progress := filepath.Join(t.TempDir(), ".progress")
	store := &memStore{}

	require.NoError(t, index(context.Background(), store, makeChunks(5), 2, progress, true))

	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[2], 1)
	assert.Equal(t, "page#00000", store.batches[0][0].ID)
	assert.NoFileExists(t, progress)
}

func TestIndex_ResumesFromCheckpoint(t *testing.T) {
	progress := filepath.Join(t.TempDir(), ".progress")
	chunks := makeChunks(5)

	failing := &memStore{failAt: 2}
	err := index(context.Background(), failing, chunks, 2, progress, true)
	require.Error(t, err)

	data, err := os.ReadFile(progress)
	require.NoError(t, err)
	assert.Equal(t, "2 "+fingerprint(chunks), string(data))

	store := &memStore{}
	require.NoError(t, index(context.Background(), store, chunks, 2, progress, true))
	require.Len(t, store.batches, 2)
	assert.Equal(t, "page#00002", store.batches[0][0].ID)
}

func TestIndex_IgnoresCheckpointWithoutResume(t *testing.T) {
	progress := filepath.Join(t.TempDir(), ".progress")
	chunks := makeChunks(5)
	require.NoError(t, writeCheckpoint(progress, 4, fingerprint(chunks)))

	store := &memStore{}
	require.NoError(t, index(context.Background(), store, chunks, 10, progress, false))
	n, _ := store.Count(context.Background())
	assert.Equal(t, 5, n)
}

func TestIndex_IgnoresCheckpointFromOtherInput(t *testing.T) {
	progress := filepath.Join(t.TempDir(), ".progress")

	failing := &memStore{failAt: 2}
	require.Error(t, index(context.Background(), failing, makeChunks(5), 2, progress, true))

	// 换了输入：不同来源的片段
	other := makeChunks(5)
	for i := range other {
		other[i].Source = "other"
	}
	store := &memStore{}
	require.NoError(t, index(context.Background(), store, other, 2, progress, true))

	n, _ := store.Count(context.Background())
	assert.Equal(t, 5, n)
	assert.Equal(t, "other#00000", store.batches[0][0].ID)
}

func TestReadCheckpoint_BareOffsetIgnored(t *testing.T) {
	progress := filepath.Join(t.TempDir(), ".progress")
	require.NoError(t, os.WriteFile(progress, []byte("3"), 0644))

	assert.Equal(t, 0, readCheckpoint(progress, fingerprint(makeChunks(5)), 5))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
