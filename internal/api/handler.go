package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/parentproof/internal/answer"
	"github.com/kalambet/parentproof/internal/pipeline"
	"github.com/kalambet/parentproof/internal/quota"
	"github.com/kalambet/parentproof/internal/semcache"
	"github.com/kalambet/parentproof/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 16 << 20 // 16MB
	defaultHistory     = 20
	maxHistory         = 100
)

// Answerer runs the question pipeline.
type Answerer interface {
	Answer(ctx context.Context, question, userID string) (answer.Answer, pipeline.Meta, error)
}

type QuotaService interface {
	Status(ctx context.Context, userID string) (quota.Decision, error)
	Provision(ctx context.Context, userID string) error
}

type QueryLog interface {
	LogQuery(ctx context.Context, e storage.QueryLogEntry) error
	RecentQueries(ctx context.Context, userID string, limit int) ([]storage.QueryLogEntry, error)
}

type Subscriptions interface {
	SubscriptionReader
	UpsertSubscription(ctx context.Context, sub storage.Subscription) error
}

type CacheAdmin interface {
	Stats(ctx context.Context) (semcache.Stats, error)
	StoreBatch(ctx context.Context, entries []semcache.Entry) error
}

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Pipeline      Answerer
	Quota         QuotaService
	Log           QueryLog
	Subscriptions Subscriptions
	Cache         CacheAdmin
	JWTSecret     string
	// AdminToken guards /admin; empty disables the admin routes.
	AdminToken string
	// Ping reports backend health for /health; optional.
	Ping func(ctx context.Context) error
}

// NewHandler returns the service router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))
		r.With(RequireSubscription(deps.Subscriptions)).Post("/answer", handleAnswer(deps))
		r.Get("/quota", handleQuota(deps))
		r.Get("/history", handleHistory(deps))
	})

	if deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Post("/users/{id}", handleProvisionUser(deps))
			r.Get("/cache/stats", handleCacheStats(deps))
			r.Post("/cache", handleCacheImport(deps))
		})
	}

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			if err := deps.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type answerRequest struct {
	Question string `json:"question"`
}

func handleAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		userID := UserID(r.Context())
		a, meta, err := deps.Pipeline.Answer(r.Context(), req.Question, userID)
		logQuery(r.Context(), deps.Log, userID, req.Question, outcome(meta, err))
		if err != nil {
			writePipelineError(w, err)
			return
		}

		slog.Debug("answered",
			"user", userID,
			"cache_hit", meta.CacheHit,
			"sources", meta.Sources,
			"provider_ms", meta.ProviderTime.Milliseconds(),
			"duration_ms", meta.Duration.Milliseconds(),
		)
		if meta.CacheHit {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func outcome(meta pipeline.Meta, err error) string {
	var pe *pipeline.Error
	switch {
	case err == nil && meta.CacheHit:
		return "cache_hit"
	case err == nil:
		return "fetched"
	case errors.As(err, &pe):
		return pe.Kind.String()
	default:
		return "error"
	}
}

func logQuery(ctx context.Context, log QueryLog, userID, question, result string) {
	if log == nil {
		return
	}
	entry := storage.QueryLogEntry{UserID: userID, Question: question, Outcome: result}
	if err := log.LogQuery(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("failed to write query log", "error", err)
	}
}

func writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		slog.Error("unexpected pipeline failure", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	switch pe.Kind {
	case pipeline.KindInvalidQuestion:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", pe.Err)
	case pipeline.KindNotRelevant:
		httpError(w, http.StatusUnprocessableEntity, pe.Kind.String(),
			"this service only answers questions about pregnancy and childcare; please rephrase your question")
	case pipeline.KindQuotaExceeded:
		secs := int(math.Ceil(time.Until(pe.ResetAt).Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, pe.Kind.String(),
			fmt.Sprintf("daily request limit reached; resets in %s", resetIn(pe.ResetAt)),
			map[string]any{"reset_at": pe.ResetAt.UTC().Format(time.RFC3339)})
	case pipeline.KindNoSubscription:
		httpError(w, http.StatusInternalServerError, "server_error", "account is not fully provisioned; please contact support")
	case pipeline.KindQuotaUnavailable:
		httpError(w, http.StatusServiceUnavailable, pe.Kind.String(), "could not verify quota; please try again")
	case pipeline.KindProvider:
		httpError(w, http.StatusBadGateway, pe.Kind.String(), "research provider failed: %v", pe.Err)
	case pipeline.KindEmptyAnswer:
		writeError(w, http.StatusBadGateway, pe.Kind.String(),
			"research provider returned an unusable answer; please try again",
			map[string]any{"details": pe.Err.Error()})
	default:
		httpError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// resetIn renders the wait until reset as whole hours, or minutes under an hour.
func resetIn(at time.Time) string {
	d := time.Until(at)
	if d >= time.Hour {
		return fmt.Sprintf("%d hours", int(math.Ceil(d.Hours())))
	}
	return fmt.Sprintf("%d minutes", int(math.Max(1, math.Ceil(d.Minutes()))))
}

type quotaResponse struct {
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func handleQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Quota.Status(r.Context(), UserID(r.Context()))
		switch {
		case errors.Is(err, quota.ErrNoSubscriptionData):
			httpError(w, http.StatusNotFound, "not_found", "no quota record for this account")
			return
		case err != nil:
			httpError(w, http.StatusServiceUnavailable, "quota_unavailable", "could not verify quota")
			return
		}
		writeJSON(w, http.StatusOK, quotaResponse{
			Count:     d.Count,
			Limit:     d.Limit,
			Remaining: d.Remaining(),
			ResetAt:   d.ResetAt.UTC(),
		})
	}
}

type historyEntry struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Log == nil {
			writeJSON(w, http.StatusOK, []historyEntry{})
			return
		}
		limit := defaultHistory
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxHistory)
		}

		entries, err := deps.Log.RecentQueries(r.Context(), UserID(r.Context()), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to load history: %v", err)
			return
		}
		out := make([]historyEntry, len(entries))
		for i, e := range entries {
			out[i] = historyEntry{ID: e.ID, Question: e.Question, Outcome: e.Outcome, CreatedAt: e.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type provisionRequest struct {
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

func handleProvisionUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req provisionRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}
		if req.Status == "" {
			req.Status = "active"
		}
		if req.CurrentPeriodEnd.IsZero() {
			req.CurrentPeriodEnd = time.Now().AddDate(0, 1, 0)
		}

		sub := storage.Subscription{UserID: userID, Status: req.Status, CurrentPeriodEnd: req.CurrentPeriodEnd}
		if err := deps.Subscriptions.UpsertSubscription(r.Context(), sub); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "saving subscription: %v", err)
			return
		}
		if err := deps.Quota.Provision(r.Context(), userID); err != nil {
			httpError(w, http.StatusServiceUnavailable, "quota_unavailable", "creating quota record: %v", err)
			return
		}

		slog.Info("user provisioned", "user", userID, "status", req.Status)
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":            userID,
			"status":             req.Status,
			"current_period_end": req.CurrentPeriodEnd.UTC(),
		})
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Cache.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type importRequest struct {
	Entries []semcache.Entry `json:"entries"`
}

func handleCacheImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Entries) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "entries is required and must not be empty")
			return
		}
		for i, e := range req.Entries {
			if strings.TrimSpace(e.Question) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "entry %d: question is required", i)
				return
			}
			if err := e.Answer.Validate(); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "entry %d: %v", i, err)
				return
			}
		}

		if err := deps.Cache.StoreBatch(r.Context(), req.Entries); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"stored": len(req.Entries)})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeError(w, code, errType, fmt.Sprintf(format, args...), nil)
}

// writeError renders the error envelope; extra keys sit beside "error".
func writeError(w http.ResponseWriter, code int, errType, msg string, extra map[string]any) {
	body := map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, body)
}
