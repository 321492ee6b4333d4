package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls Claude models through the official SDK.
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
}

// GetDefaultModel returns the default Claude model, checking REFINERY_MODEL_DEFAULT first
func GetDefaultModel() string {
	if model := os.Getenv("REFINERY_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// NewAnthropicProvider creates a provider. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if model == "" {
		model = GetDefaultModel()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client, defaultModel: model}, nil
}

// Name implements Provider
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// DefaultModel implements Provider
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// Complete implements Provider
func (p *AnthropicProvider) Complete(ctx context.Context, model string, payload Payload) (*Completion, error) {
	maxTokens := payload.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.Content)),
		},
	}
	if payload.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: payload.System}}
	}
	if payload.Temperature != nil {
		params.Temperature = anthropic.Float(*payload.Temperature)
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}, nil
}
