package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kalambet/hrq/internal/synth"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HRQ_"

type Config struct {
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Ollama    OllamaConfig    `envPrefix:"OLLAMA_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	Synth     SynthConfig     `envPrefix:"SYNTH_"`
	Retrieval RetrievalConfig `envPrefix:"RETRIEVAL_"`
	Ingest    IngestConfig    `envPrefix:"INGEST_"`
	Log       LogConfig       `envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port           int           `env:"PORT"`
	Bind           string        `env:"BIND"`
	MaxConnections int           `env:"MAX_CONNECTIONS"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	// LocalCaller is the identity used by the stdio MCP server and local CLI commands.
	LocalCaller string `env:"LOCAL_CALLER"`
	// Tokens maps bearer tokens to caller IDs, e.g. HRQ_SERVER_TOKENS="t1:alice,t2:bob".
	Tokens map[string]string `env:"TOKENS" envKeyValSeparator:":"`
}

type OllamaConfig struct {
	BaseURL    string `env:"BASE_URL"`
	EmbedModel string `env:"EMBED_MODEL"`
	// KeepAlive keeps the embedding model loaded between queries.
	KeepAlive string `env:"KEEP_ALIVE"`
}

type StorageConfig struct {
	DataDir string `env:"DATA_DIR"`
}

type CacheConfig struct {
	TTL           time.Duration `env:"TTL"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE"`
}

type SynthConfig struct {
	FallbackPolicy string `env:"FALLBACK_POLICY"`
	PrimaryTable   string `env:"PRIMARY_TABLE"`
	KeywordsFile   string `env:"KEYWORDS_FILE"`
	PatternsFile   string `env:"PATTERNS_FILE"`
}

type RetrievalConfig struct {
	Threshold     float64 `env:"THRESHOLD"`
	Limit         int     `env:"LIMIT"`
	Dimensions    int     `env:"DIMENSIONS"`
	VectorBackend string  `env:"VECTOR_BACKEND"`
	PostgresDSN   string  `env:"POSTGRES_DSN"`
}

type IngestConfig struct {
	ChunkSize    int           `env:"CHUNK_SIZE"`
	ChunkOverlap int           `env:"CHUNK_OVERLAP"`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
}

type LogConfig struct {
	Level  string `env:"LEVEL"`
	Format string `env:"FORMAT"`
}

// Vector backends.
const (
	VectorSQLite   = "sqlite"
	VectorPostgres = "postgres"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4200,
			Bind:           "127.0.0.1",
			MaxConnections: 64,
			RequestTimeout: 30 * time.Second,
			LocalCaller:    "local",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
			KeepAlive:  "10m",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepSchedule: "@every 10m",
		},
		Synth: SynthConfig{
			FallbackPolicy: string(synth.FallbackSilent),
			PrimaryTable:   "employees",
		},
		Retrieval: RetrievalConfig{
			Threshold:     0.7,
			Limit:         10,
			Dimensions:    384,
			VectorBackend: VectorSQLite,
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 100,
			PollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration in layers: built-in defaults, the JSON file at
// $XDG_CONFIG_HOME/hrq/config.json, a .env file in the working directory,
// then HRQ_* environment variables. Later layers win; a .env entry never
// replaces a variable already set in the process environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	applyBackend(&cfg, b)

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("server.max_connections must not be negative"))
	}
	if _, err := synth.ParsePolicy(c.Synth.FallbackPolicy); err != nil {
		errs = append(errs, fmt.Errorf("synth.fallback_policy: %w", err))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold %v must be within [0,1]", c.Retrieval.Threshold))
	}
	if c.Retrieval.Limit <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.limit must be positive"))
	}
	switch c.Retrieval.VectorBackend {
	case VectorSQLite:
	case VectorPostgres:
		if c.Retrieval.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("retrieval.vector_backend=postgres requires %sRETRIEVAL_POSTGRES_DSN", EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown retrieval.vector_backend %q (want sqlite or postgres)", c.Retrieval.VectorBackend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level %q (want debug, info, warn or error)", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log.format %q (want text or json)", c.Log.Format))
	}
	return errors.Join(errs...)
}
