package retrieval

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
)

// FlatStore is an in-memory brute-force cosine index, partitioned by
// knowledge base. Search never crosses partitions.
type FlatStore struct {
	mu   sync.RWMutex
	dims int
	byKB map[string][]indexedChunk
}

type indexedChunk struct {
	chunk model.RetrievedChunk
	vec   []float64
	norm  float64
}

func NewFlatStore(dims int) *FlatStore {
	return &FlatStore{
		dims: dims,
		byKB: make(map[string][]indexedChunk),
	}
}

// Upsert indexes a chunk under the given knowledge base. An existing chunk
// with the same ID is replaced in place, keeping its insertion position.
func (s *FlatStore) Upsert(ctx context.Context, kbID string, chunk model.RetrievedChunk, vec []float64) error {
	if s.dims > 0 && len(vec) != s.dims {
		return errx.Permanent(errors.New("vector dimension mismatch"), "bad embedding dimensions")
	}

	norm := floats.Norm(vec, 2)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.byKB[kbID]
	for i := range entries {
		if entries[i].chunk.ID == chunk.ID {
			entries[i] = indexedChunk{chunk: chunk, vec: vec, norm: norm}
			return nil
		}
	}
	s.byKB[kbID] = append(entries, indexedChunk{chunk: chunk, vec: vec, norm: norm})
	return nil
}

// Search scores every chunk in the knowledge base by cosine similarity and
// returns the top K, similarity descending, insertion order breaking ties.
func (s *FlatStore) Search(ctx context.Context, vector []float64, kbID string, topK int) ([]model.RetrievedChunk, error) {
	if s.dims > 0 && len(vector) != s.dims {
		return nil, errx.Permanent(errors.New("vector dimension mismatch"), "bad query dimensions")
	}
	if topK <= 0 {
		return nil, nil
	}

	qnorm := floats.Norm(vector, 2)

	s.mu.RLock()
	entries := s.byKB[kbID]
	scored := make([]model.RetrievedChunk, 0, len(entries))
	for _, e := range entries {
		c := e.chunk
		c.Similarity = cosine(vector, qnorm, e.vec, e.norm)
		scored = append(scored, c)
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of chunks indexed for a knowledge base.
func (s *FlatStore) Count(kbID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKB[kbID])
}

func cosine(a []float64, anorm float64, b []float64, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 || len(a) != len(b) {
		return 0
	}
	sim := floats.Dot(a, b) / (anorm * bnorm)
	// negative similarity carries no rank information for text embeddings
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

var _ VectorStore = (*FlatStore)(nil)
