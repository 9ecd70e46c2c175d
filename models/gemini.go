package models

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/agentwire/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a provider for the Gemini API. Gemini reports
// each model's input token limit, so its entries carry a context window.
func NewGeminiProvider(ctx context.Context, apiKey, endpoint string) (*GeminiProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) List(ctx context.Context) ([]Model, error) {
	var out []Model
	it := p.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list Gemini models")
		}
		out = append(out, geminiModel(info))
	}
	return sortModels(out), nil
}

// ContextWindow asks the API for one model's input token limit.
func (p *GeminiProvider) ContextWindow(ctx context.Context, model string) (int64, error) {
	info, err := p.client.GenerativeModel(model).Info(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get Gemini model info for %s", model)
	}
	return int64(info.InputTokenLimit), nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiModel(info *genai.ModelInfo) Model {
	m := Model{
		ID:            strings.TrimPrefix(info.Name, "models/"),
		DisplayName:   info.DisplayName,
		Provider:      "gemini",
		ContextWindow: int64(info.InputTokenLimit),
	}
	if m.ContextWindow == 0 {
		m.ContextWindow = ContextWindow(m.ID)
	}
	return m
}
