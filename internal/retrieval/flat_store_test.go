package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-core/server/internal/agent/model"
)

func TestFlatStoreSearchOrdering(t *testing.T) {
	s := NewFlatStore(3)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "far", Content: "far"}, []float64{0, 1, 0}))
	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "near", Content: "near"}, []float64{1, 0.1, 0}))
	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "exact", Content: "exact"}, []float64{1, 0, 0}))

	out, err := s.Search(ctx, []float64{1, 0, 0}, "kb1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "exact", out[0].ID)
	assert.Equal(t, "near", out[1].ID)
	assert.Equal(t, "far", out[2].ID)
	assert.InDelta(t, 1.0, out[0].Similarity, 1e-9)
}

func TestFlatStoreTieBreakInsertionOrder(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()

	// identical vectors, identical similarity
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("c%d", i)
		require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: id, Content: id}, []float64{1, 1}))
	}

	out, err := s.Search(ctx, []float64{1, 1}, "kb1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c0", "c1", "c2"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestFlatStoreKnowledgeBaseIsolation(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "a", Content: "a"}, []float64{1, 0}))
	require.NoError(t, s.Upsert(ctx, "kb2", model.RetrievedChunk{ID: "b", Content: "b"}, []float64{1, 0}))

	out, err := s.Search(ctx, []float64{1, 0}, "kb1", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)

	out, err = s.Search(ctx, []float64{1, 0}, "kb3", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFlatStoreUpsertReplaces(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "a", Content: "old"}, []float64{1, 0}))
	require.NoError(t, s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "a", Content: "new"}, []float64{1, 0}))

	assert.Equal(t, 1, s.Count("kb1"))
	out, err := s.Search(ctx, []float64{1, 0}, "kb1", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Content)
}

func TestFlatStoreDimensionMismatch(t *testing.T) {
	s := NewFlatStore(3)
	ctx := context.Background()

	err := s.Upsert(ctx, "kb1", model.RetrievedChunk{ID: "a"}, []float64{1, 0})
	assert.Error(t, err)

	_, err = s.Search(ctx, []float64{1, 0}, "kb1", 1)
	assert.Error(t, err)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "how do I reset my password")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "how do I reset my password")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Embed(ctx, "completely unrelated billing question")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
