package retrieval

import (
	"context"
	"errors"

	"google.golang.org/genai"

	errx "github.com/aidesk-core/server/internal/core/error"
)

// GeminiEmbedder embeds text through the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{client: client, model: model}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, classifyGenAIError(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errx.Transient(errors.New("empty embedding response"), "embedding provider returned no data")
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// classifyGenAIError maps provider errors onto the errx kinds: rate limits
// and server errors retry, everything else (auth, bad request) does not.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return errx.Transient(err, "embedding provider overloaded")
		}
		return errx.Permanent(err, "embedding request rejected")
	}
	// network-level failures are worth retrying
	return errx.Transient(err, "embedding provider unreachable")
}

var _ EmbeddingProvider = (*GeminiEmbedder)(nil)
