// Package pipeline turns a question into a cited answer: relevance check,
// semantic cache, quota, provider fetch, parse and cache write, in that
// order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/parentproof/internal/answer"
	"github.com/kalambet/parentproof/internal/quota"
	"github.com/kalambet/parentproof/internal/relevance"
	"github.com/kalambet/parentproof/internal/search"
	"github.com/kalambet/parentproof/internal/semcache"
)

type Classifier interface {
	Classify(ctx context.Context, question string) relevance.Result
}

type Cache interface {
	FindSimilar(ctx context.Context, question string) (semcache.Hit, bool)
}

type QuotaChecker interface {
	CheckAndConsume(ctx context.Context, userID string) (quota.Decision, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, question string) (search.Result, error)
}

// Meta describes how an answer was produced.
type Meta struct {
	CacheHit bool
	// CacheScore is the similarity of the matched entry on a hit.
	CacheScore float64
	// RelevanceDegraded is set when the classifier failed open.
	RelevanceDegraded bool
	// Quota is the decision taken for a fetched answer; nil on a cache hit.
	Quota   *quota.Decision
	Sources int
	// ProviderTime is the research time reported by the provider.
	ProviderTime time.Duration
	Duration     time.Duration
}

// Orchestrator runs the question pipeline.
type Orchestrator struct {
	classifier Classifier
	cache      Cache
	quota      QuotaChecker
	fetcher    Fetcher
	writer     CacheWriter
}

func New(classifier Classifier, cache Cache, limiter QuotaChecker, fetcher Fetcher, writer CacheWriter) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		cache:      cache,
		quota:      limiter,
		fetcher:    fetcher,
		writer:     writer,
	}
}

// Answer resolves question for userID. Cache hits never touch the quota.
// Every error is a *Error.
func (o *Orchestrator) Answer(ctx context.Context, question, userID string) (out answer.Answer, meta Meta, err error) {
	start := time.Now()
	defer func() { meta.Duration = time.Since(start) }()

	q := strings.TrimSpace(question)
	if q == "" {
		return answer.Answer{}, meta, fail(KindInvalidQuestion, errors.New("question is empty"))
	}

	rel := o.classifier.Classify(ctx, q)
	meta.RelevanceDegraded = rel.Degraded
	if !rel.Relevant {
		return answer.Answer{}, meta, fail(KindNotRelevant, errors.New("question is not about pregnancy or childcare"))
	}

	if hit, ok := o.cache.FindSimilar(ctx, q); ok {
		meta.CacheHit, meta.CacheScore = true, hit.Score
		slog.Debug("answer served from cache", "score", hit.Score, "matched", hit.Query)
		return hit.Answer, meta, nil
	}

	d, qerr := o.quota.CheckAndConsume(ctx, userID)
	switch {
	case errors.Is(qerr, quota.ErrNoSubscriptionData):
		slog.Error("user has no quota record", "user", userID, "error", qerr)
		return answer.Answer{}, meta, fail(KindNoSubscription, qerr)
	case qerr != nil:
		return answer.Answer{}, meta, fail(KindQuotaUnavailable, qerr)
	case !d.Allowed:
		return answer.Answer{}, meta, &Error{
			Kind:    KindQuotaExceeded,
			Err:     fmt.Errorf("daily limit of %d requests reached", d.Limit),
			ResetAt: d.ResetAt,
		}
	}
	meta.Quota = &d

	res, ferr := o.fetcher.Fetch(ctx, q)
	if ferr != nil {
		return answer.Answer{}, meta, fail(KindProvider, ferr)
	}
	meta.Sources = len(res.Sources)
	meta.ProviderTime = time.Duration(res.ResponseTime * float64(time.Second))
	slog.Info("answer fetched", "user", userID, "response_time", res.ResponseTime, "sources", meta.Sources)

	sections, perr := answer.Parse(res.RawText)
	if perr != nil {
		slog.Warn("provider output did not follow the grammar", "length", len(res.RawText))
		return answer.Answer{}, meta, fail(KindEmptyAnswer, perr)
	}
	a := answer.Assemble(sections, answer.BuildCitations(res.Sources))
	if verr := a.Validate(); verr != nil {
		return answer.Answer{}, meta, fail(KindEmptyAnswer, verr)
	}

	o.writer.Write(ctx, q, a)
	return a, meta, nil
}
