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
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return newFileBackend(path)
}

// unsetAfter removes variables a .env file may have added to the process.
func unsetAfter(t *testing.T, keys ...string) {
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, ""), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Server.Bind = %q, want 127.0.0.1", cfg.Server.Bind)
	}
	if cfg.Server.LocalCaller != "local" {
		t.Errorf("Server.LocalCaller = %q, want local", cfg.Server.LocalCaller)
	}
	if cfg.Ollama.EmbedModel != "all-minilm" {
		t.Errorf("Ollama.EmbedModel = %q, want all-minilm", cfg.Ollama.EmbedModel)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Cache.SweepSchedule != "@every 10m" {
		t.Errorf("Cache.SweepSchedule = %q", cfg.Cache.SweepSchedule)
	}
	if cfg.Synth.FallbackPolicy != "silent" || cfg.Synth.PrimaryTable != "employees" {
		t.Errorf("Synth = %+v", cfg.Synth)
	}
	if cfg.Retrieval.Threshold != 0.7 || cfg.Retrieval.Limit != 10 || cfg.Retrieval.Dimensions != 384 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.VectorBackend != VectorSQLite {
		t.Errorf("Retrieval.VectorBackend = %q, want sqlite", cfg.Retrieval.VectorBackend)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestFileValues(t *testing.T) {
	b := writeTempConfig(t, `{
  "server.port": 5000,
  "cache.ttl": "90s",
  "retrieval.threshold": 0.8,
  "synth.fallback_policy": "strict",
  "retrieval.postgres_dsn": "postgres://ignored"
}`)

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Cache.TTL = %v, want 90s", cfg.Cache.TTL)
	}
	if cfg.Retrieval.Threshold != 0.8 {
		t.Errorf("Retrieval.Threshold = %v, want 0.8", cfg.Retrieval.Threshold)
	}
	if cfg.Synth.FallbackPolicy != "strict" {
		t.Errorf("Synth.FallbackPolicy = %q, want strict", cfg.Synth.FallbackPolicy)
	}
	if cfg.Retrieval.PostgresDSN != "" {
		t.Errorf("secret read from file: %q", cfg.Retrieval.PostgresDSN)
	}
}

func TestFileValues_BadDurationKeepsDefault(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{"cache.ttl": "soon"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want default", cfg.Cache.TTL)
	}
}

func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"server.port": 5000, "log.level": "warn"}`)

	t.Setenv("HRQ_SERVER_PORT", "6000")
	t.Setenv("HRQ_SERVER_TOKENS", "tok-a:alice,tok-b:bob")
	t.Setenv("HRQ_CACHE_TTL", "2m")
	t.Setenv("HRQ_RETRIEVAL_VECTOR_BACKEND", "postgres")
	t.Setenv("HRQ_RETRIEVAL_POSTGRES_DSN", "postgres://hrq@localhost/hrq")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want file value warn", cfg.Log.Level)
	}
	if cfg.Server.Tokens["tok-a"] != "alice" || cfg.Server.Tokens["tok-b"] != "bob" || len(cfg.Server.Tokens) != 2 {
		t.Errorf("Server.Tokens = %v", cfg.Server.Tokens)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache.TTL = %v, want 2m", cfg.Cache.TTL)
	}
	if cfg.Retrieval.PostgresDSN != "postgres://hrq@localhost/hrq" {
		t.Errorf("Retrieval.PostgresDSN = %q", cfg.Retrieval.PostgresDSN)
	}
}

func TestEnvOverride_InvalidValue(t *testing.T) {
	t.Setenv("HRQ_SERVER_PORT", "not-a-port")
	if _, err := loadWith(writeTempConfig(t, ""), ""); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestDotenv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	content := "HRQ_LOG_LEVEL=debug\nHRQ_SERVER_BIND=0.0.0.0\n"
	if err := os.WriteFile(dotenv, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	unsetAfter(t, "HRQ_LOG_LEVEL")
	t.Setenv("HRQ_SERVER_BIND", "10.0.0.1")

	cfg, err := loadWith(writeTempConfig(t, ""), dotenv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from .env", cfg.Log.Level)
	}
	if cfg.Server.Bind != "10.0.0.1" {
		t.Errorf("Server.Bind = %q, want process env to win over .env", cfg.Server.Bind)
	}
}

func TestDotenv_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")
	if _, err := loadWith(writeTempConfig(t, ""), missing); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"policy", func(c *Config) { c.Synth.FallbackPolicy = "loud" }, "fallback_policy"},
		{"threshold", func(c *Config) { c.Retrieval.Threshold = 1.5 }, "threshold"},
		{"limit", func(c *Config) { c.Retrieval.Limit = 0 }, "retrieval.limit"},
		{"backend", func(c *Config) { c.Retrieval.VectorBackend = "faiss" }, "vector_backend"},
		{"postgres without dsn", func(c *Config) { c.Retrieval.VectorBackend = VectorPostgres }, "POSTGRES_DSN"},
		{"ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"overlap", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }, "chunk_overlap"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to mention %q", err, tc.want)
			}
		})
	}

	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, "")

	if err := setKey(b, "server.port", "4300"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKey(b, "cache.ttl", "10m"); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	if err := setKey(b, "cache.ttl", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKey(b, "retrieval.postgres_dsn", "postgres://x"); err == nil || !strings.Contains(err.Error(), "HRQ_RETRIEVAL_POSTGRES_DSN") {
		t.Errorf("secret set err = %v", err)
	}
	if err := setKey(b, "nope.nothing", "1"); err == nil {
		t.Error("expected error for unknown key")
	}

	// Reload from disk.
	cfg, err := loadWith(newFileBackend(b.path), "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 4300 || cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("reloaded port=%d ttl=%v", cfg.Server.Port, cfg.Cache.TTL)
	}
}

func TestSpecEnvNames(t *testing.T) {
	for _, s := range specs {
		want := EnvPrefix + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
		if s.env != want {
			t.Errorf("%s: env = %s, want %s", s.key, s.env, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	b := writeTempConfig(t, `{"cache.ttl": "2m"}`)
	t.Setenv("HRQ_SERVER_PORT", "4300")
	t.Setenv("HRQ_RETRIEVAL_POSTGRES_DSN", "postgres://secret")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Server.Tokens = map[string]string{"tok": "alice", "tok2": "bob"}

	got := make(map[string]Setting)
	for _, st := range describe(cfg, b) {
		if strings.Contains(st.Value, "secret") || strings.Contains(st.Value, "alice") {
			t.Errorf("secret leaked: %+v", st)
		}
		got[st.Key] = st
	}
	if len(got) != len(specs) {
		t.Errorf("describe returned %d keys, want %d", len(got), len(specs))
	}

	checks := []struct {
		key    string
		value  string
		source Source
	}{
		{"server.port", "4300", SourceEnv},
		{"cache.ttl", "2m0s", SourceFile},
		{"log.level", "info", SourceDefault},
		{"server.tokens", "2 configured", SourceDefault},
		{"retrieval.postgres_dsn", "(set)", SourceEnv},
	}
	for _, c := range checks {
		st := got[c.key]
		if st.Value != c.value || st.Source != c.source {
			t.Errorf("%s = %q from %s, want %q from %s", c.key, st.Value, st.Source, c.value, c.source)
		}
	}
}

func TestSetKey_ValidatesResult(t *testing.T) {
	b := writeTempConfig(t, "")

	if err := setKey(b, "synth.fallback_policy", "bogus"); err == nil {
		t.Error("expected invalid fallback policy to be rejected")
	}
	if err := setKey(b, "ingest.chunk_overlap", "900"); err == nil {
		t.Error("expected overlap >= chunk size to be rejected")
	}
	if err := setKey(b, "retrieval.vector_backend", "postgres"); err == nil {
		t.Error("expected postgres backend without a DSN to be rejected")
	}

	t.Setenv("HRQ_RETRIEVAL_POSTGRES_DSN", "postgres://localhost/hrq")
	if err := setKey(b, "retrieval.vector_backend", "postgres"); err != nil {
		t.Errorf("postgres with DSN in env: %v", err)
	}
	if _, ok := b.Get("synth.fallback_policy"); ok {
		t.Error("rejected value was persisted")
	}
}

func TestUnsetKey(t *testing.T) {
	b := writeTempConfig(t, `{"cache.ttl": "2m"}`)
	if err := unsetKey(b, "cache.ttl"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	cfg, err := loadWith(newFileBackend(b.path), "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("TTL = %v after unset, want default", cfg.Cache.TTL)
	}
	if err := unsetKey(b, "server.tokens"); err == nil {
		t.Error("expected error unsetting a secret")
	}
}
