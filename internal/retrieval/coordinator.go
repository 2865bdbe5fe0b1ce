// Package retrieval turns a user question into budgeted, source-tagged
// context: embed the question, search the tenant's knowledge base, rank, and
// assemble. Retrieval failure is never fatal; the caller degrades to a
// conversational answer.
package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/resilience"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// EmbeddingProvider converts text into a dense vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore searches chunk vectors scoped to one knowledge base.
type VectorStore interface {
	Search(ctx context.Context, vector []float64, kbID string, topK int) ([]model.RetrievedChunk, error)
}

const (
	depEmbedding   = "embedding"
	depVectorStore = "vectorstore"
)

// Coordinator runs the embed-then-search pipeline behind the resilience layer.
type Coordinator struct {
	embedder EmbeddingProvider
	store    VectorStore
	res      *resilience.Registry
	topK     int
	timeout  time.Duration
}

func NewCoordinator(embedder EmbeddingProvider, store VectorStore, res *resilience.Registry, topK int, timeout time.Duration) *Coordinator {
	if topK <= 0 {
		topK = 5
	}
	return &Coordinator{
		embedder: embedder,
		store:    store,
		res:      res,
		topK:     topK,
		timeout:  timeout,
	}
}

// Retrieve returns the top chunks for the question, ordered by similarity
// descending with insertion order breaking ties. Any failure yields an empty
// result so the turn can continue without context.
func (c *Coordinator) Retrieve(ctx context.Context, question, kbID string) []model.RetrievedChunk {
	vec, err := resilience.Do(ctx, c.res, depEmbedding, c.timeout, func(ctx context.Context) ([]float64, error) {
		return c.embedder.Embed(ctx, question)
	})
	if err != nil {
		logx.Warn().Err(err).Str("kb_id", kbID).Msg("embedding failed, degrading to no context")
		return nil
	}

	chunks, err := resilience.Do(ctx, c.res, depVectorStore, c.timeout, func(ctx context.Context) ([]model.RetrievedChunk, error) {
		return c.store.Search(ctx, vec, kbID, c.topK)
	})
	if err != nil {
		logx.Warn().Err(err).Str("kb_id", kbID).Msg("vector search failed, degrading to no context")
		return nil
	}

	// stable sort keeps insertion order on equal similarity
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
	if len(chunks) > c.topK {
		chunks = chunks[:c.topK]
	}

	logx.Debug().Str("kb_id", kbID).Int("chunks", len(chunks)).Msg("retrieval complete")
	return chunks
}
