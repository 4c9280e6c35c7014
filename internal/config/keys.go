package config

import (
	"log/slog"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "HRQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.bind", typ: kString, env: "HRQ_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "server.max_connections", typ: kInt, env: "HRQ_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.request_timeout", typ: kDuration, env: "HRQ_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		key: "server.local_caller", typ: kString, env: "HRQ_SERVER_LOCAL_CALLER",
		apply:   func(cfg *Config, v any) { cfg.Server.LocalCaller = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.LocalCaller },
	},
	{
		key: "server.tokens", typ: kString, env: "HRQ_SERVER_TOKENS",
		secret:  true,
		apply:   func(cfg *Config, v any) {},
		extract: func(cfg Config) any { return len(cfg.Server.Tokens) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "HRQ_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "HRQ_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.keep_alive", typ: kString, env: "HRQ_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HRQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "HRQ_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.sweep_schedule", typ: kString, env: "HRQ_CACHE_SWEEP_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Cache.SweepSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.SweepSchedule },
	},
	{
		key: "synth.fallback_policy", typ: kString, env: "HRQ_SYNTH_FALLBACK_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Synth.FallbackPolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.FallbackPolicy },
	},
	{
		key: "synth.primary_table", typ: kString, env: "HRQ_SYNTH_PRIMARY_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Synth.PrimaryTable = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.PrimaryTable },
	},
	{
		key: "synth.keywords_file", typ: kString, env: "HRQ_SYNTH_KEYWORDS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Synth.KeywordsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.KeywordsFile },
	},
	{
		key: "synth.patterns_file", typ: kString, env: "HRQ_SYNTH_PATTERNS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Synth.PatternsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.PatternsFile },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "HRQ_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "retrieval.limit", typ: kInt, env: "HRQ_RETRIEVAL_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Limit },
	},
	{
		key: "retrieval.dimensions", typ: kInt, env: "HRQ_RETRIEVAL_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Dimensions },
	},
	{
		key: "retrieval.vector_backend", typ: kString, env: "HRQ_RETRIEVAL_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.VectorBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.VectorBackend },
	},
	{
		key: "retrieval.postgres_dsn", typ: kString, env: "HRQ_RETRIEVAL_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Retrieval.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.PostgresDSN },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "HRQ_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "HRQ_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.poll_interval", typ: kDuration, env: "HRQ_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "HRQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "HRQ_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// applyBackend copies persisted values over cfg. Secrets are only read
// from the environment; unparsable values are logged and skipped.
func applyBackend(cfg *Config, b ConfigBackend) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Get(s.key)
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
