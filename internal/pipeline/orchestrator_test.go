package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/parentproof/internal/answer"
	"github.com/kalambet/parentproof/internal/quota"
	"github.com/kalambet/parentproof/internal/relevance"
	"github.com/kalambet/parentproof/internal/search"
	"github.com/kalambet/parentproof/internal/semcache"
)

// trace records the order in which pipeline stages are reached.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(step string) {
	tr.mu.Lock()
	tr.steps = append(tr.steps, step)
	tr.mu.Unlock()
}

type mockClassifier struct {
	tr     *trace
	result relevance.Result
}

func (m *mockClassifier) Classify(context.Context, string) relevance.Result {
	m.tr.add("classify")
	return m.result
}

type mockCache struct {
	tr     *trace
	hit    *semcache.Hit
	stored map[string]answer.Answer
	err    error
	mu     sync.Mutex
}

func (m *mockCache) FindSimilar(context.Context, string) (semcache.Hit, bool) {
	m.tr.add("cache_lookup")
	if m.hit == nil {
		return semcache.Hit{}, false
	}
	return *m.hit, true
}

func (m *mockCache) Store(_ context.Context, q string, a answer.Answer) error {
	m.tr.add("cache_store")
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = map[string]answer.Answer{}
	}
	m.stored[q] = a
	return nil
}

type mockQuota struct {
	tr       *trace
	decision quota.Decision
	err      error
	calls    int
}

func (m *mockQuota) CheckAndConsume(context.Context, string) (quota.Decision, error) {
	m.tr.add("quota")
	m.calls++
	return m.decision, m.err
}

type mockFetcher struct {
	tr     *trace
	result search.Result
	err    error
}

func (m *mockFetcher) Fetch(context.Context, string) (search.Result, error) {
	m.tr.add("fetch")
	return m.result, m.err
}

type fixture struct {
	tr         *trace
	classifier *mockClassifier
	cache      *mockCache
	quota      *mockQuota
	fetcher    *mockFetcher
	o          *Orchestrator
}

const e2eRaw = "<PROS>• Some benefit [1]</PROS><CONS>• Some risk [1]</CONS>"

func newFixture() *fixture {
	tr := &trace{}
	f := &fixture{
		tr:         tr,
		classifier: &mockClassifier{tr: tr, result: relevance.Result{Relevant: true}},
		cache:      &mockCache{tr: tr},
		quota:      &mockQuota{tr: tr, decision: quota.Decision{Allowed: true, Count: 1, Limit: 35}},
		fetcher: &mockFetcher{tr: tr, result: search.Result{
			RawText:      e2eRaw,
			ResponseTime: 4.25,
			Sources:      []answer.Source{{Title: "AAP media guidance", Link: "https://pubmed.ncbi.nlm.nih.gov/1/"}},
		}},
	}
	f.o = New(f.classifier, f.cache, f.quota, f.fetcher, NewInlineWriter(f.cache))
	return f
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v (%T), want *pipeline.Error", err, err)
	}
	return pe.Kind
}

func TestAnswer_EndToEnd(t *testing.T) {
	f := newFixture()
	q := "Is screen time harmful for babies under 2?"

	got, meta, err := f.o.Answer(context.Background(), q, "u1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	want := answer.Answer{
		Pros:      []string{"Some benefit [1]"},
		Cons:      []string{"Some risk [1]"},
		Citations: []answer.Citation{{ID: 1, Text: "AAP media guidance", URL: "https://pubmed.ncbi.nlm.nih.gov/1/"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("answer = %#v, want %#v", got, want)
	}
	if meta.CacheHit {
		t.Error("CacheHit = true on a fresh fetch")
	}
	if meta.Quota == nil || meta.Quota.Count != 1 {
		t.Errorf("meta.Quota = %+v", meta.Quota)
	}
	if meta.Sources != 1 || meta.ProviderTime != 4250*time.Millisecond {
		t.Errorf("meta.Sources = %d, meta.ProviderTime = %v", meta.Sources, meta.ProviderTime)
	}
	if !reflect.DeepEqual(f.cache.stored[q], want) {
		t.Errorf("cached = %#v", f.cache.stored[q])
	}
	wantSteps := []string{"classify", "cache_lookup", "quota", "fetch", "cache_store"}
	if !reflect.DeepEqual(f.tr.steps, wantSteps) {
		t.Errorf("steps = %v, want %v", f.tr.steps, wantSteps)
	}
}

func TestAnswer_CacheHitBypassesQuota(t *testing.T) {
	f := newFixture()
	cached := answer.Answer{Pros: []string{"cached"}, Cons: []string{}, Citations: []answer.Citation{}}
	f.cache.hit = &semcache.Hit{Answer: cached, Score: 0.91}
	f.quota.decision = quota.Decision{Allowed: false, Count: 35, Limit: 35}

	got, meta, err := f.o.Answer(context.Background(), "q", "u1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !reflect.DeepEqual(got, cached) {
		t.Errorf("answer = %#v", got)
	}
	if !meta.CacheHit || meta.CacheScore != 0.91 {
		t.Errorf("meta = %+v", meta)
	}
	if f.quota.calls != 0 {
		t.Errorf("quota consulted %d times on a cache hit", f.quota.calls)
	}
	if len(f.cache.stored) != 0 {
		t.Error("cache hit was written back")
	}
}

func TestAnswer_NotRelevant(t *testing.T) {
	f := newFixture()
	f.classifier.result = relevance.Result{Relevant: false}

	_, _, err := f.o.Answer(context.Background(), "best index fund?", "u1")
	if kindOf(t, err) != KindNotRelevant {
		t.Errorf("kind = %v", kindOf(t, err))
	}
	if !reflect.DeepEqual(f.tr.steps, []string{"classify"}) {
		t.Errorf("steps = %v, want classify only", f.tr.steps)
	}
}

func TestAnswer_DegradedRelevanceProceeds(t *testing.T) {
	f := newFixture()
	f.classifier.result = relevance.Result{Relevant: true, Degraded: true}

	_, meta, err := f.o.Answer(context.Background(), "q", "u1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !meta.RelevanceDegraded {
		t.Error("RelevanceDegraded not reported")
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	f := newFixture()
	_, _, err := f.o.Answer(context.Background(), "   \n", "u1")
	if kindOf(t, err) != KindInvalidQuestion {
		t.Errorf("kind = %v", kindOf(t, err))
	}
	if len(f.tr.steps) != 0 {
		t.Errorf("steps = %v, want none", f.tr.steps)
	}
}

func TestAnswer_QuotaExceeded(t *testing.T) {
	f := newFixture()
	reset := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	f.quota.decision = quota.Decision{Allowed: false, Count: 35, Limit: 35, ResetAt: reset}

	_, _, err := f.o.Answer(context.Background(), "q", "u1")
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindQuotaExceeded {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if !pe.ResetAt.Equal(reset) {
		t.Errorf("ResetAt = %v, want %v", pe.ResetAt, reset)
	}
	for _, s := range f.tr.steps {
		if s == "fetch" {
			t.Error("fetched despite exceeded quota")
		}
	}
}

func TestAnswer_QuotaErrors(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{quota.ErrNoSubscriptionData, KindNoSubscription},
		{errors.New("redis down"), KindQuotaUnavailable},
	}
	for _, tc := range cases {
		f := newFixture()
		f.quota.err = tc.err
		_, _, err := f.o.Answer(context.Background(), "q", "u1")
		if got := kindOf(t, err); got != tc.want {
			t.Errorf("quota err %v: kind = %v, want %v", tc.err, got, tc.want)
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("pipeline error does not wrap %v", tc.err)
		}
	}
}

func TestAnswer_ProviderError(t *testing.T) {
	f := newFixture()
	f.fetcher.err = &search.ProviderError{Status: 500, Message: "boom"}

	_, _, err := f.o.Answer(context.Background(), "q", "u1")
	if kindOf(t, err) != KindProvider {
		t.Errorf("kind = %v", kindOf(t, err))
	}
	var pe *search.ProviderError
	if !errors.As(err, &pe) || pe.Status != 500 {
		t.Errorf("provider error not preserved: %v", err)
	}
	if len(f.cache.stored) != 0 {
		t.Error("failed fetch was cached")
	}
}

func TestAnswer_EmptyAnswer(t *testing.T) {
	f := newFixture()
	f.fetcher.result = search.Result{RawText: "I could not find anything useful."}

	_, _, err := f.o.Answer(context.Background(), "q", "u1")
	if kindOf(t, err) != KindEmptyAnswer {
		t.Errorf("kind = %v", kindOf(t, err))
	}
	if !errors.Is(err, answer.ErrEmptyAnswer) {
		t.Errorf("err does not wrap ErrEmptyAnswer: %v", err)
	}
}

func TestAnswer_CacheWriteFailureSwallowed(t *testing.T) {
	f := newFixture()
	f.cache.err = errors.New("disk full")

	got, _, err := f.o.Answer(context.Background(), "q", "u1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(got.Pros) != 1 {
		t.Errorf("answer = %#v", got)
	}
}

func TestAnswer_DanglingMarkersDropped(t *testing.T) {
	f := newFixture()
	f.fetcher.result = search.Result{RawText: "<PROS>\n• Helps sleep [1][3]\n</PROS>"}

	got, _, err := f.o.Answer(context.Background(), "q", "u1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(got.Pros) != 1 || got.Pros[0] != "Helps sleep" {
		t.Errorf("pros = %q, want markers without sources removed", got.Pros)
	}
	if got.Citations == nil || len(got.Citations) != 0 {
		t.Errorf("citations = %#v, want empty", got.Citations)
	}
}

func TestKind_String(t *testing.T) {
	if KindQuotaExceeded.String() != "quota_exceeded" {
		t.Errorf("got %q", KindQuotaExceeded.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("got %q", Kind(99).String())
	}
}
