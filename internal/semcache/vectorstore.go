package semcache

import (
	"context"
	"time"
)

// VectorStore indexes cache entries by question embedding.
type VectorStore interface {
	// Upsert inserts r or replaces the entry with the same ID.
	Upsert(ctx context.Context, records ...Record) error

	// Search returns up to topK entries ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)

	Count(ctx context.Context) (int, error)
}

// Record is one cached answer as stored in the index.
type Record struct {
	ID        string
	Query     string
	Embedding []float32
	Metadata  Metadata
	CreatedAt time.Time
}

// Metadata is the flat form of an answer.
type Metadata struct {
	Pros      string
	Cons      string
	Citations string // JSON array
}

// Match is a Record with its similarity to the query vector.
type Match struct {
	Record
	Score float64
}
