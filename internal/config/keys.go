package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.addr", typ: kString, env: "PARENTPROOF_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PARENTPROOF_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PARENTPROOF_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "engine.provider", typ: kString, env: "PARENTPROOF_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.ollama_url", typ: kString, env: "PARENTPROOF_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OllamaURL },
	},
	{
		key: "engine.chat_model", typ: kString, env: "PARENTPROOF_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "PARENTPROOF_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.openai_api_key", typ: kString, env: "PARENTPROOF_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIAPIKey },
	},
	{
		key: "engine.openai_base_url", typ: kString, env: "PARENTPROOF_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIBaseURL },
	},
	{
		key: "search.api_key", typ: kString, env: "PARENTPROOF_SEARCH_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "search.base_url", typ: kString, env: "PARENTPROOF_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.location", typ: kString, env: "PARENTPROOF_SEARCH_LOCATION",
		apply:   func(cfg *Config, v any) { cfg.Search.Location = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Location },
	},
	{
		key: "search.pro_mode", typ: kBool, env: "PARENTPROOF_SEARCH_PRO_MODE",
		apply:   func(cfg *Config, v any) { cfg.Search.ProMode = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.ProMode },
	},
	{
		key: "search.timeout", typ: kString, env: "PARENTPROOF_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "relevance.timeout", typ: kString, env: "PARENTPROOF_RELEVANCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Relevance.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Relevance.Timeout },
	},
	{
		key: "cache.threshold", typ: kFloat, env: "PARENTPROOF_CACHE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.Threshold },
	},
	{
		key: "cache.write_timeout", typ: kString, env: "PARENTPROOF_CACHE_WRITE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cache.WriteTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.WriteTimeout },
	},
	{
		key: "quota.daily_limit", typ: kInt, env: "PARENTPROOF_QUOTA_DAILY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.DailyLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.DailyLimit },
	},
	{
		key: "quota.timezone", typ: kString, env: "PARENTPROOF_QUOTA_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Quota.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.Timezone },
	},
	{
		key: "quota.backend", typ: kString, env: "PARENTPROOF_QUOTA_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Quota.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.Backend },
	},
	{
		key: "quota.redis_addr", typ: kString, env: "PARENTPROOF_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Quota.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.RedisAddr },
	},
	{
		key: "quota.redis_password", typ: kString, env: "PARENTPROOF_REDIS_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Quota.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.RedisPassword },
	},
	{
		key: "quota.redis_db", typ: kInt, env: "PARENTPROOF_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Quota.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.RedisDB },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "PARENTPROOF_JWT_SECRET",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.admin_token", typ: kString, env: "PARENTPROOF_ADMIN_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Auth.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.AdminToken },
	},
	{
		key: "mcp.user_id", typ: kString, env: "PARENTPROOF_MCP_USER",
		apply:   func(cfg *Config, v any) { cfg.MCP.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.UserID },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
