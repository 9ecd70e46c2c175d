package models

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/agentwire/errors"
)

type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider creates a provider for the Anthropic models
// endpoint. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(options...)
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) List(ctx context.Context) ([]Model, error) {
	var out []Model
	iter := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		out = append(out, Model{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			Provider:      p.Name(),
			ContextWindow: ContextWindow(m.ID),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to list Anthropic models")
	}
	return sortModels(out), nil
}
