package vector

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"
)

// GenaiEmbedder computes embeddings through the Gemini API.
type GenaiEmbedder struct {
	cli   *genai.Client
	model string
}

func NewGenaiEmbedder(ctx context.Context, model string) (*GenaiEmbedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("vector: init genai client: %w", err)
	}
	return &GenaiEmbedder{cli: cli, model: model}, nil
}

func (e *GenaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cli.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("vector: empty embedding from %s", e.model)
	}
	return resp.Embeddings[0].Values, nil
}
