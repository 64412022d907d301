// Package semcache maps questions to previously computed answers by
// embedding similarity, so near-duplicate questions skip the paid search.
package semcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/parentproof/internal/answer"
)

// DefaultThreshold is the minimum cosine similarity that counts as a hit.
const DefaultThreshold = 0.85

// Entry pairs a question with its answer for bulk loading.
type Entry struct {
	Question string        `json:"question"`
	Answer   answer.Answer `json:"answer"`
}

// Stats describes the cache contents.
type Stats struct {
	Entries int `json:"entries"`
}

// Hit is a successful lookup.
type Hit struct {
	Answer answer.Answer
	Query  string // the cached question that matched
	Score  float64
}

// Cache is a semantic answer cache. Lookups are best-effort: any failure is
// logged and reported as a miss.
type Cache struct {
	embedder  *Embedder
	store     VectorStore
	threshold float64
}

// New returns a Cache. A threshold outside (0, 1] means DefaultThreshold.
func New(embedder *Embedder, store VectorStore, threshold float64) *Cache {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Cache{embedder: embedder, store: store, threshold: threshold}
}

// FindSimilar returns the cached answer of the nearest stored question when
// its similarity is at least the threshold.
func (c *Cache) FindSimilar(ctx context.Context, question string) (Hit, bool) {
	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		slog.Warn("cache lookup: embedding failed", "error", err)
		return Hit{}, false
	}
	matches, err := c.store.Search(ctx, vec, 1)
	if err != nil {
		slog.Warn("cache lookup: search failed", "error", err)
		return Hit{}, false
	}
	if len(matches) == 0 {
		return Hit{}, false
	}

	best := matches[0]
	if best.Score < c.threshold {
		slog.Debug("cache miss", "score", best.Score, "threshold", c.threshold)
		return Hit{}, false
	}
	a, err := Unflatten(best.Metadata)
	if err != nil {
		slog.Warn("cache lookup: corrupt entry", "id", best.ID, "error", err)
		return Hit{}, false
	}
	return Hit{Answer: a, Query: best.Query, Score: best.Score}, true
}

// Store embeds question and upserts it with a. Errors are returned so the
// caller decides whether to swallow them.
func (c *Cache) Store(ctx context.Context, question string, a answer.Answer) error {
	rec, err := record(question, a)
	if err != nil {
		return err
	}
	if rec.Embedding, err = c.embedder.Embed(ctx, question); err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// StoreBatch embeds all entries concurrently and upserts them in one write.
// Nothing is written when any entry is invalid or fails to embed.
func (c *Cache) StoreBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]Record, len(entries))
	questions := make([]string, len(entries))
	for i, e := range entries {
		rec, err := record(e.Question, e.Answer)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		records[i] = rec
		questions[i] = e.Question
	}

	vecs, err := c.embedder.EmbedBatch(ctx, questions)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}
	if err := c.store.Upsert(ctx, records...); err != nil {
		return fmt.Errorf("storing cache entries: %w", err)
	}
	return nil
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting cache entries: %w", err)
	}
	return Stats{Entries: n}, nil
}

func record(question string, a answer.Answer) (Record, error) {
	if question == "" {
		return Record{}, fmt.Errorf("empty question")
	}
	if err := a.Validate(); err != nil {
		return Record{}, fmt.Errorf("refusing to cache invalid answer: %w", err)
	}
	meta, err := Flatten(a.Normalize())
	if err != nil {
		return Record{}, err
	}
	return Record{ID: EntryID(question), Query: question, Metadata: meta, CreatedAt: time.Now()}, nil
}
