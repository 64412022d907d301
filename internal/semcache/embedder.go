package semcache

import (
	"context"
	"fmt"

	"github.com/kalambet/parentproof/internal/engine"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentEmbeds bounds EmbedBatch fan-out against the engine.
const maxConcurrentEmbeds = 4

// EmbeddingEngine is the part of engine.Engine the embedder needs.
type EmbeddingEngine interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

var _ EmbeddingEngine = (engine.Engine)(nil)

// Embedder turns questions into fingerprints with a fixed model.
type Embedder struct {
	engine EmbeddingEngine
	model  string
}

func NewEmbedder(e EmbeddingEngine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: empty vector")
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, preserving order. The first failure
// cancels the rest.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEmbeds)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
