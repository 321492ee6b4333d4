package ai

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiProvider is a thin wrapper around the official genai client.
type GeminiProvider struct {
	cli          *genai.Client
	defaultModel string
}

// NewGeminiProvider creates a provider. An empty apiKey falls back to
// GEMINI_API_KEY and then GOOGLE_API_KEY.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set")
		}
	}
	if model == "" {
		model = ModelGeminiFlash
	}

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &GeminiProvider{cli: cli, defaultModel: model}, nil
}

// Name implements Provider
func (g *GeminiProvider) Name() string { return ProviderGemini }

// DefaultModel implements Provider
func (g *GeminiProvider) DefaultModel() string { return g.defaultModel }

// Complete implements Provider
func (g *GeminiProvider) Complete(ctx context.Context, model string, payload Payload) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if payload.Temperature != nil {
		t := float32(*payload.Temperature)
		cfg.Temperature = &t
	}
	if payload.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(payload.MaxTokens)
	}
	if payload.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(payload.System, genai.RoleUser)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, model, genai.Text(payload.Content), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	completion := &Completion{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		completion.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return completion, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
