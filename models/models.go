// Package models lists the models a provider offers and knows the context
// window of common agent models.
package models

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
)

// Model is one catalog entry. ContextWindow is 0 when the provider does not
// report it and the model is not in the built-in table.
type Model struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	Provider      string `json:"provider"`
	ContextWindow int64  `json:"context_window,omitempty"`
}

// Provider lists the models available to the configured account.
type Provider interface {
	Name() string
	List(ctx context.Context) ([]Model, error)
}

// NewProvider builds the provider named in cfg, reading its API key from
// the provider's usual environment variable.
func NewProvider(ctx context.Context, cfg config.CatalogConfig) (Provider, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "openai"
	}
	switch name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		return NewOpenAIProvider(key, cfg.BaseURL), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
		}
		return NewAnthropicProvider(key, cfg.BaseURL), nil
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable not set")
		}
		return NewGeminiProvider(ctx, key, cfg.BaseURL)
	default:
		return nil, errors.New("unknown model provider: %s", cfg.Provider)
	}
}

// contextWindows maps model name prefixes to their context window. The
// longest matching prefix wins.
var contextWindows = map[string]int64{
	"gpt-5":             272000,
	"gpt-5-codex":       272000,
	"codex-mini":        200000,
	"gpt-4.1":           1047576,
	"gpt-4o":            128000,
	"o3":                200000,
	"o4-mini":           200000,
	"claude-opus-4":     200000,
	"claude-sonnet-4":   200000,
	"claude-3-7-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"gemini-2.5-pro":    1048576,
	"gemini-2.5-flash":  1048576,
	"gemini-2.0-flash":  1048576,
}

// ContextWindow returns the known context window of model, or 0.
func ContextWindow(model string) int64 {
	model = strings.TrimPrefix(strings.ToLower(model), "models/")
	best, window := "", int64(0)
	for prefix, w := range contextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, window = prefix, w
		}
	}
	return window
}

func sortModels(models []Model) []Model {
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}
