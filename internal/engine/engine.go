// Package engine abstracts the language-model backend used for relevance
// classification and question embeddings.
package engine

import (
	"context"
	"fmt"
)

// Engine is the minimum a backend must offer: chat completions with optional
// structured output, and text embeddings.
type Engine interface {
	// Chat returns the assistant reply. A non-nil schema asks for JSON output
	// matching it.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object a structured chat call must return.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// Options selects and configures a backend.
type Options struct {
	Provider  string // "ollama" or "openai"
	OllamaURL string
	APIKey    string
	BaseURL   string // optional OpenAI-compatible endpoint
}

// New builds the backend named by opts.Provider.
func New(opts Options) (Engine, error) {
	switch opts.Provider {
	case "", "ollama":
		return NewOllamaEngine(opts.OllamaURL), nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai engine requires an API key")
		}
		return NewOpenAIEngine(opts.APIKey, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", opts.Provider)
	}
}
