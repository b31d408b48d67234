package llmclient

import (
	"context"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient drives one OpenAI model through the Responses API.
type OpenAIClient struct {
	cli   openai.Client
	model string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		cli:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

func (o *OpenAIClient) Name() string { return "openai:" + o.model }
func (o *OpenAIClient) Close() error { return nil }

func (o *OpenAIClient) Generate(ctx context.Context, role, prompt string, p Params) (string, error) {
	params := responses.ResponseNewParams{
		Model: o.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if p.MaxNewTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(p.MaxNewTokens))
	}
	if p.Temperature > 0 {
		params.Temperature = openai.Float(p.Temperature)
	}
	if p.JSON {
		params.Instructions = openai.String("Respond with a single JSON object and nothing else.")
	}

	resp, err := o.cli.Responses.New(ctx, params)
	if err != nil {
		log.Printf("llmclient: openai %s role=%s: %v", o.model, role, err)
		if !Retryable(err) {
			return "", NewPermanentError(err)
		}
		return "", err
	}
	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Retryable classifies provider errors by message. Rate limits and server
// errors are worth another attempt; everything else is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "server_error")
}
