package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/parentproof/internal/api"
	"github.com/kalambet/parentproof/internal/config"
	"github.com/kalambet/parentproof/internal/engine"
	"github.com/kalambet/parentproof/internal/pipeline"
	"github.com/kalambet/parentproof/internal/quota"
	"github.com/kalambet/parentproof/internal/relevance"
	"github.com/kalambet/parentproof/internal/search"
	"github.com/kalambet/parentproof/internal/semcache"
	"github.com/kalambet/parentproof/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask and quota_status tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// app is the wired pipeline and its backing stores.
type app struct {
	store    *storage.Store
	tracker  *quota.Tracker
	cache    *semcache.Cache
	writer   *pipeline.DetachedWriter
	pipeline *pipeline.Orchestrator
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	eng, err := engine.New(engine.Options{
		Provider:  cfg.Engine.Provider,
		OllamaURL: cfg.Engine.OllamaURL,
		APIKey:    cfg.Engine.OpenAIAPIKey,
		BaseURL:   cfg.Engine.OpenAIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Engine.ChatModel, cfg.Engine.EmbedModel); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{store: store}

	var quotaStore quota.Store
	switch cfg.Quota.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Quota.RedisAddr,
			Password: cfg.Quota.RedisPassword,
			DB:       cfg.Quota.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Quota.RedisAddr, err)
		}
		quotaStore = quota.NewRedisStore(a.redis)
	default:
		quotaStore = quota.NewSQLiteStore(store.DB())
	}
	a.tracker = quota.NewTracker(quotaStore, cfg.Quota.DailyLimit, cfg.Location())

	embedder := semcache.NewEmbedder(eng, cfg.Engine.EmbedModel)
	a.cache = semcache.New(embedder, semcache.NewSQLiteStore(store.DB()), cfg.Cache.Threshold)
	a.writer = pipeline.NewDetachedWriter(a.cache, cfg.CacheWriteTimeout())

	classifier := relevance.NewClassifier(eng, cfg.Engine.ChatModel, cfg.RelevanceTimeout())
	fetcher := search.NewClient(cfg.Search.APIKey, cfg.Search.BaseURL, search.Options{
		Location: cfg.Search.Location,
		ProMode:  cfg.Search.ProMode,
		Timeout:  cfg.SearchTimeout(),
	})
	a.pipeline = pipeline.New(classifier, a.cache, a.tracker, fetcher, a.writer)

	slog.Info("pipeline ready",
		"engine", cfg.Engine.Provider,
		"quota_backend", cfg.Quota.Backend,
		"daily_limit", cfg.Quota.DailyLimit,
		"cache_threshold", cfg.Cache.Threshold,
	)
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close waits for pending cache writes, then releases the stores.
func (a *app) Close() {
	if a.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.writer.Wait(ctx); err != nil {
			slog.Warn("pending cache writes abandoned", "error", err)
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "parentproof version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.AdminToken == "" {
		slog.Warn("PARENTPROOF_ADMIN_TOKEN not set; admin endpoints disabled")
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:      a.pipeline,
		Quota:         a.tracker,
		Log:           a.store,
		Subscriptions: a.store,
		Cache:         a.cache,
		JWTSecret:     cfg.Auth.JWTSecret,
		AdminToken:    cfg.Auth.AdminToken,
		Ping:          a.ping,
	})

	srv := newHTTPServer(cfg, handler)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "parentproof listening on %s\n", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHTTPServer keeps request contexts independent of the signal context so
// in-flight answers can drain during shutdown.
func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// shutdownTimeout leaves room for a request that has just started a
// provider fetch to finish.
func shutdownTimeout(cfg config.Config) time.Duration {
	return cfg.RelevanceTimeout() + cfg.SearchTimeout() + 5*time.Second
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if strings.TrimSpace(cfg.MCP.UserID) == "" {
		return errors.New("mcp.user_id is not set; run `parentproof config set mcp.user_id <id>` and provision that user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline: a.pipeline,
		Quota:    a.tracker,
		Log:      a.store,
		UserID:   cfg.MCP.UserID,
		Version:  version,
	})
	slog.Info("MCP server started (stdio transport)", "user", cfg.MCP.UserID)

	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
