package llmclient

import (
	"context"
	"log"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a client for one Gemini model. The genai client
// reads GEMINI_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

func (g *GeminiClient) Generate(ctx context.Context, role, prompt string, p Params) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if p.Temperature > 0 {
		t := float32(p.Temperature)
		cfg.Temperature = &t
	}
	if p.MaxNewTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxNewTokens)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		log.Printf("llmclient: gemini %s role=%s: %v", g.model, role, err)
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
