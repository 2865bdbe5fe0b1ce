package retrieval

import (
	"context"
	"hash/fnv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// HashEmbedderDims is the vector size produced by HashEmbedder.
const HashEmbedderDims = 64

// HashEmbedder is a deterministic bag-of-words embedder for development and
// tests. It needs no model or network: tokens are hashed into buckets and the
// vector is L2-normalized, so identical texts embed identically and token
// overlap drives similarity.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dims: HashEmbedderDims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%e.dims]++
	}

	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec, nil
}

var _ EmbeddingProvider = (*HashEmbedder)(nil)
