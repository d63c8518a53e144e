package llm

import (
	"context"
	"encoding/json"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client. One
// instance is bound to one model variant; primary/fallback selection lives
// in the orchestrator.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// GenerateJSON sends the prompt plus the marshalled input and requests
// application/json output.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	full := prompt
	if input != nil {
		in, _ := json.MarshalIndent(input, "", "  ")
		full = prompt + "\n\n[INPUT JSON]\n" + string(in)
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrInvalidJSON
	}
	raw := json.RawMessage(resp.Candidates[0].Content.Parts[0].Text)
	var scratch any
	if err := json.Unmarshal(raw, &scratch); err != nil {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}
