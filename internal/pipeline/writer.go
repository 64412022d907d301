package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/parentproof/internal/answer"
)

// DefaultCacheWriteTimeout bounds a detached cache write.
const DefaultCacheWriteTimeout = 30 * time.Second

// AnswerStorer persists a freshly fetched answer.
type AnswerStorer interface {
	Store(ctx context.Context, question string, a answer.Answer) error
}

// CacheWriter decides how the post-fetch cache write runs. Implementations
// log failures and never report them to the caller.
type CacheWriter interface {
	Write(ctx context.Context, question string, a answer.Answer)
}

// DetachedWriter stores answers in the background so the caller gets its
// answer first. The write outlives request cancellation but is bounded by
// its own timeout.
type DetachedWriter struct {
	store   AnswerStorer
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDetachedWriter(store AnswerStorer, timeout time.Duration) *DetachedWriter {
	if timeout <= 0 {
		timeout = DefaultCacheWriteTimeout
	}
	return &DetachedWriter{store: store, timeout: timeout}
}

func (w *DetachedWriter) Write(ctx context.Context, question string, a answer.Answer) {
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		if err := w.store.Store(ctx, question, a); err != nil {
			slog.Warn("cache write failed", "error", err)
		}
	}()
}

// Wait blocks until all pending writes finish or ctx is done.
func (w *DetachedWriter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineWriter stores answers before Answer returns.
type InlineWriter struct {
	store AnswerStorer
}

func NewInlineWriter(store AnswerStorer) *InlineWriter {
	return &InlineWriter{store: store}
}

func (w *InlineWriter) Write(ctx context.Context, question string, a answer.Answer) {
	if err := w.store.Store(ctx, question, a); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}
