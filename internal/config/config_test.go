package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PARENTPROOF_SEARCH_API_KEY", "search-key")
	t.Setenv("PARENTPROOF_JWT_SECRET", "jwt-secret")
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:4000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.Provider != "ollama" {
		t.Errorf("Engine.Provider = %q, want ollama", cfg.Engine.Provider)
	}
	if cfg.Cache.Threshold != 0.85 {
		t.Errorf("Cache.Threshold = %v, want 0.85", cfg.Cache.Threshold)
	}
	if cfg.Quota.DailyLimit != 35 {
		t.Errorf("Quota.DailyLimit = %d, want 35", cfg.Quota.DailyLimit)
	}
	if cfg.Quota.Backend != "sqlite" {
		t.Errorf("Quota.Backend = %q, want sqlite", cfg.Quota.Backend)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("Location = %v", cfg.Location())
	}
	if cfg.SearchTimeout() != 60*time.Second {
		t.Errorf("SearchTimeout = %v", cfg.SearchTimeout())
	}
	if cfg.RelevanceTimeout() != 10*time.Second {
		t.Errorf("RelevanceTimeout = %v", cfg.RelevanceTimeout())
	}
	if cfg.CacheWriteTimeout() != 30*time.Second {
		t.Errorf("CacheWriteTimeout = %v", cfg.CacheWriteTimeout())
	}
}

// TestFileValues verifies that all value types are read from the JSON file.
func TestFileValues(t *testing.T) {
	setRequired(t)
	b := writeTempConfig(t, `{
		"server.addr": ":8080",
		"engine.chat_model": "qwen2.5",
		"search.pro_mode": "true",
		"cache.threshold": 0.9,
		"quota.daily_limit": 10,
		"quota.timezone": "Europe/Paris",
		"quota.backend": "redis",
		"quota.redis_db": 2,
		"search.timeout": "45s"
	}`)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.ChatModel != "qwen2.5" {
		t.Errorf("Engine.ChatModel = %q", cfg.Engine.ChatModel)
	}
	if !cfg.Search.ProMode {
		t.Error("Search.ProMode should be true")
	}
	if cfg.Cache.Threshold != 0.9 {
		t.Errorf("Cache.Threshold = %v", cfg.Cache.Threshold)
	}
	if cfg.Quota.DailyLimit != 10 || cfg.Quota.RedisDB != 2 || cfg.Quota.Backend != "redis" {
		t.Errorf("Quota = %+v", cfg.Quota)
	}
	if cfg.Location().String() != "Europe/Paris" {
		t.Errorf("Location = %v", cfg.Location())
	}
	if cfg.SearchTimeout() != 45*time.Second {
		t.Errorf("SearchTimeout = %v", cfg.SearchTimeout())
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("PARENTPROOF_QUOTA_DAILY_LIMIT", "50")
	t.Setenv("PARENTPROOF_CACHE_THRESHOLD", "0.8")

	cfg, err := loadWith(writeTempConfig(t, `{"quota.daily_limit": 10}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Quota.DailyLimit != 50 {
		t.Errorf("Quota.DailyLimit = %d, want 50", cfg.Quota.DailyLimit)
	}
	if cfg.Cache.Threshold != 0.8 {
		t.Errorf("Cache.Threshold = %v, want 0.8", cfg.Cache.Threshold)
	}
	if cfg.Search.APIKey != "search-key" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
}

// TestSecretsIgnoredInFile verifies secrets in the config file are never read.
func TestSecretsIgnoredInFile(t *testing.T) {
	t.Setenv("PARENTPROOF_SEARCH_API_KEY", "")
	t.Setenv("PARENTPROOF_JWT_SECRET", "jwt-secret")

	_, err := loadWith(writeTempConfig(t, `{"search.api_key": "from-file"}`))
	if err == nil {
		t.Fatal("expected error: search key in file must not satisfy the requirement")
	}
}

// TestMissingRequiredField verifies a clear error naming every missing secret.
func TestMissingRequiredField(t *testing.T) {
	t.Setenv("PARENTPROOF_SEARCH_API_KEY", "")
	t.Setenv("PARENTPROOF_JWT_SECRET", "")

	_, err := loadWith(writeTempConfig(t, `{}`))
	if err == nil {
		t.Fatal("expected error for missing secrets, got nil")
	}
	for _, want := range []string{"PARENTPROOF_SEARCH_API_KEY", "PARENTPROOF_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err, want)
		}
	}
}

func TestValidate_RejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"threshold", map[string]string{"PARENTPROOF_CACHE_THRESHOLD": "1.5"}, "cache.threshold"},
		{"limit", map[string]string{"PARENTPROOF_QUOTA_DAILY_LIMIT": "0"}, "quota.daily_limit"},
		{"timezone", map[string]string{"PARENTPROOF_QUOTA_TIMEZONE": "Mars/Olympus"}, "quota.timezone"},
		{"backend", map[string]string{"PARENTPROOF_QUOTA_BACKEND": "memcached"}, "quota.backend"},
		{"provider", map[string]string{"PARENTPROOF_ENGINE_PROVIDER": "mlx"}, "engine.provider"},
		{"openai key", map[string]string{"PARENTPROOF_ENGINE_PROVIDER": "openai"}, "PARENTPROOF_OPENAI_API_KEY"},
		{"duration", map[string]string{"PARENTPROOF_SEARCH_TIMEOUT": "soon"}, "search.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("PARENTPROOF_OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(writeTempConfig(t, `{}`))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBadEnvValueKeepsDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("PARENTPROOF_QUOTA_DAILY_LIMIT", "lots")

	cfg, err := loadWith(writeTempConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Quota.DailyLimit != 35 {
		t.Errorf("Quota.DailyLimit = %d, want default 35", cfg.Quota.DailyLimit)
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKeyWith(b, "quota.daily_limit", "20"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, "cache.threshold", "0.9"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := setKeyWith(b, "search.pro_mode", "yes"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "auth.jwt_secret", "x"); err == nil || !strings.Contains(err.Error(), "PARENTPROOF_JWT_SECRET") {
		t.Errorf("secret set error = %v", err)
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	// Reload from disk.
	setRequired(t)
	cfg, err := loadWith(newFileBackend(b.path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Quota.DailyLimit != 20 || cfg.Cache.Threshold != 0.9 {
		t.Errorf("persisted values not applied: limit=%d threshold=%v", cfg.Quota.DailyLimit, cfg.Cache.Threshold)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Auth.JWTSecret = "hunter2"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Key, "secret") || strings.Contains(k.Key, "api_key") || k.Value == "hunter2" {
			t.Errorf("secret key listed: %s", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Error("ValidKeys and ShowAll disagree")
	}
}
