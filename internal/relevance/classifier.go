// Package relevance decides whether a question is about pregnancy or
// childcare before any paid work is done for it.
package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/parentproof/internal/engine"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 10 * time.Second

// Chatter is the part of engine.Engine the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// Result is the outcome of a classification.
type Result struct {
	Relevant bool
	// Degraded is set when the model could not be consulted and the result
	// is the fail-open default.
	Degraded bool
}

// Classifier asks a chat model whether a question is in domain.
type Classifier struct {
	chat    Chatter
	model   string
	timeout time.Duration
}

// NewClassifier returns a Classifier using model on chat. A zero timeout
// means DefaultTimeout.
func NewClassifier(chat Chatter, model string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Classifier{chat: chat, model: model, timeout: timeout}
}

// Classify reports whether question is about pregnancy or childcare. It never
// returns an error: when the model fails, times out or answers with something
// unparseable, the question is treated as relevant.
func (c *Classifier) Classify(ctx context.Context, question string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	relevant, err := c.ask(ctx, question)
	if err != nil {
		slog.Warn("relevance check failed, allowing question", "error", err)
		return Result{Relevant: true, Degraded: true}
	}
	return Result{Relevant: relevant}
}

type verdict struct {
	Relevancy *bool `json:"relevancy"`
}

func (c *Classifier) ask(ctx context.Context, question string) (bool, error) {
	raw, err := c.chat.Chat(ctx, c.model, BuildPrompt(question), verdictSchema())
	if err != nil {
		return false, fmt.Errorf("chat: %w", err)
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return false, fmt.Errorf("decoding verdict %q: %w", raw, err)
	}
	if v.Relevancy == nil {
		return false, fmt.Errorf("verdict %q has no relevancy field", raw)
	}
	return *v.Relevancy, nil
}

func verdictSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"relevancy": {Type: "boolean", Description: "true if the message is about pregnancy or childcare"},
		},
		Required: []string{"relevancy"},
	}
}
