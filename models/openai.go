package models

import (
	"context"

	"github.com/m4xw311/agentwire/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider for the OpenAI models endpoint.
// baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(options...)
	return &OpenAIProvider{client: &c}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) List(ctx context.Context) ([]Model, error) {
	var out []Model
	iter := p.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		out = append(out, Model{
			ID:            m.ID,
			Provider:      p.Name(),
			ContextWindow: ContextWindow(m.ID),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to list OpenAI models")
	}
	return sortModels(out), nil
}
