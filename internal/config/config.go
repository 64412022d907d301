package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Engine    EngineConfig
	Search    SearchConfig
	Relevance RelevanceConfig
	Cache     CacheConfig
	Quota     QuotaConfig
	Auth      AuthConfig
	MCP       MCPConfig
}

type ServerConfig struct {
	Addr string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// EngineConfig selects the model backend for relevance checks and embeddings.
type EngineConfig struct {
	Provider      string // "ollama" or "openai"
	OllamaURL     string
	ChatModel     string
	EmbedModel    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

type SearchConfig struct {
	APIKey   string
	BaseURL  string
	Location string
	ProMode  bool
	Timeout  string
}

type RelevanceConfig struct {
	Timeout string
}

type CacheConfig struct {
	Threshold    float64
	WriteTimeout string
}

type QuotaConfig struct {
	DailyLimit    int
	Timezone      string
	Backend       string // "sqlite" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AuthConfig struct {
	JWTSecret  string
	AdminToken string
}

// MCPConfig names the account the stdio MCP server acts as.
type MCPConfig struct {
	UserID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:4000",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			Provider:   "ollama",
			OllamaURL:  "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Search: SearchConfig{
			BaseURL:  "https://44c57909-d9e2-41cb-9244-9cd4a443cb41.app.bhs.ai.cloud.ovh.net",
			Location: "us",
			Timeout:  "60s",
		},
		Relevance: RelevanceConfig{
			Timeout: "10s",
		},
		Cache: CacheConfig{
			Threshold:    0.85,
			WriteTimeout: "30s",
		},
		Quota: QuotaConfig{
			DailyLimit: 35,
			Timezone:   "America/New_York",
			Backend:    "sqlite",
			RedisAddr:  "localhost:6379",
		},
	}
}

// Load reads configuration from the JSON file backend and PARENTPROOF_*
// environment variables. Environment variables win. Secrets are read from
// the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required secrets and policy values.
func (c Config) Validate() error {
	var errs []error
	if c.Search.APIKey == "" {
		errs = append(errs, errors.New("missing required config: search API key. Set it via environment variable PARENTPROOF_SEARCH_API_KEY"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("missing required config: JWT secret. Set it via environment variable PARENTPROOF_JWT_SECRET"))
	}
	switch c.Engine.Provider {
	case "ollama":
	case "openai":
		if c.Engine.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("engine.provider is openai but PARENTPROOF_OPENAI_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.provider must be ollama or openai, got %q", c.Engine.Provider))
	}
	switch c.Quota.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("quota.backend must be sqlite or redis, got %q", c.Quota.Backend))
	}
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, fmt.Errorf("quota.daily_limit must be positive, got %d", c.Quota.DailyLimit))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("quota.timezone: %w", err))
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		errs = append(errs, fmt.Errorf("cache.threshold must be in (0, 1], got %v", c.Cache.Threshold))
	}
	for key, v := range map[string]string{
		"search.timeout":      c.Search.Timeout,
		"relevance.timeout":   c.Relevance.Timeout,
		"cache.write_timeout": c.Cache.WriteTimeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
		}
	}
	return errors.Join(errs...)
}

// Location returns the quota day boundary timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SearchTimeout returns the provider request timeout.
func (c Config) SearchTimeout() time.Duration { return duration(c.Search.Timeout, 60*time.Second) }

// RelevanceTimeout returns the classifier call timeout.
func (c Config) RelevanceTimeout() time.Duration { return duration(c.Relevance.Timeout, 10*time.Second) }

// CacheWriteTimeout bounds background cache writes.
func (c Config) CacheWriteTimeout() time.Duration { return duration(c.Cache.WriteTimeout, 30*time.Second) }

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
