package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/hrq/internal/api"
	"github.com/kalambet/hrq/internal/cache"
	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/config"
	"github.com/kalambet/hrq/internal/executor"
	"github.com/kalambet/hrq/internal/history"
	"github.com/kalambet/hrq/internal/ingest"
	"github.com/kalambet/hrq/internal/intent"
	"github.com/kalambet/hrq/internal/ollama"
	"github.com/kalambet/hrq/internal/pipeline"
	"github.com/kalambet/hrq/internal/retrieval"
	"github.com/kalambet/hrq/internal/storage"
	"github.com/kalambet/hrq/internal/synth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hrq server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running hrq server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hrq system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hrq.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// components is everything runServer wires together.
type components struct {
	engine   *pipeline.Engine
	catalog  *catalog.Catalog
	ingester *ingest.Service
	worker   *ingest.Worker
	history  *history.Recorder
	cache    *cache.Cache
	vectors  retrieval.VectorStore
	external api.VectorDeleter
	closers  []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
}

// buildComponents assembles the query engine and its collaborators over an
// open store. emb is the embedding backend shared by queries and ingestion.
func buildComponents(ctx context.Context, cfg config.Config, store *storage.Store, emb retrieval.Backend) (*components, error) {
	c := &components{}

	keywords := intent.DefaultKeywords()
	if cfg.Synth.KeywordsFile != "" {
		kw, err := intent.LoadKeywords(cfg.Synth.KeywordsFile)
		if err != nil {
			return nil, fmt.Errorf("loading keywords: %w", err)
		}
		keywords = kw
	}

	templates := synth.DefaultTemplates()
	if cfg.Synth.PatternsFile != "" {
		patterns, err := synth.LoadPatterns(cfg.Synth.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("loading patterns: %w", err)
		}
		if templates, err = synth.Templates(patterns); err != nil {
			return nil, fmt.Errorf("compiling patterns: %w", err)
		}
	}
	policy, err := synth.ParsePolicy(cfg.Synth.FallbackPolicy)
	if err != nil {
		return nil, err
	}
	synthOpts := synth.DefaultOptions()
	synthOpts.Policy = policy
	synthOpts.PrimaryTable = cfg.Synth.PrimaryTable

	registry := executor.New(executor.Options{Timeout: cfg.Server.RequestTimeout})
	c.closers = append(c.closers, registry.Close)

	switch cfg.Retrieval.VectorBackend {
	case config.VectorPostgres:
		pg, err := retrieval.OpenPgVector(ctx, cfg.Retrieval.PostgresDSN, cfg.Retrieval.Dimensions)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("opening pgvector: %w", err)
		}
		c.closers = append(c.closers, pg.Close)
		c.vectors = pg
		c.external = pg
	default:
		c.vectors = retrieval.NewSQLiteStore(store.DB())
	}

	embedder := retrieval.NewEmbedder(emb, cfg.Ollama.EmbedModel, cfg.Retrieval.Dimensions)

	c.catalog = catalog.New(store)
	c.cache = cache.New(store, cache.Options{TTL: cfg.Cache.TTL})
	c.history = history.NewRecorder(store, history.DefaultWriteTimeout)
	c.closers = append(c.closers, func() error { c.history.Close(); return nil })
	c.ingester = ingest.NewService(store, cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	c.worker = ingest.NewWorker(store, embedder, c.vectors, cfg.Ingest.PollInterval)

	c.engine = pipeline.New(pipeline.Deps{
		Classifier:  intent.NewKeywordClassifier(keywords),
		Datasets:    c.catalog,
		Synthesizer: synth.New(synthOpts, templates),
		Executor:    registry,
		Retriever:   retrieval.NewRetriever(embedder, c.vectors),
		Cache:       c.cache,
		History:     c.history,
	}, pipeline.Options{
		Threshold: float32(cfg.Retrieval.Threshold),
		Limit:     cfg.Retrieval.Limit,
	})
	return c, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "hrq version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, os.Stderr)

	if len(cfg.Server.Tokens) == 0 {
		printWarning("no API tokens configured; every /v1 request will be rejected (set %sSERVER_TOKENS)", config.EnvPrefix)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg.Server) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb := ollama.New(cfg.Ollama.BaseURL, ollama.Options{KeepAlive: cfg.Ollama.KeepAlive})
	if err := ollama.EnsureReady(ctx, emb, cfg.Ollama.EmbedModel, cfg.Retrieval.Dimensions, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	comps, err := buildComponents(ctx, cfg, store, emb)
	if err != nil {
		return err
	}
	defer comps.Close()

	sweeper, err := cache.NewSweeper(comps.cache, cfg.Cache.SweepSchedule)
	if err != nil {
		return fmt.Errorf("cache sweep schedule: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	go comps.worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Health:    store,
		Engine:    comps.engine,
		Catalog:   comps.catalog,
		Ingester:  comps.ingester,
		Documents: store,
		Vectors:   comps.external,
		History:   comps.history,
		Cache:     comps.cache,
		Tokens:    cfg.Server.Tokens,
		Timeout:   cfg.Server.RequestTimeout,
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Engine:   comps.engine,
			Catalog:  comps.catalog,
			Ingester: comps.ingester,
			History:  comps.history,
			CallerID: cfg.Server.LocalCaller,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "caller", cfg.Server.LocalCaller)
	}

	addr := net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hrq listening", "addr", addr, "vector_backend", cfg.Retrieval.VectorBackend, "max_connections", cfg.Server.MaxConnections)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("hrq is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop hrq (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to hrq (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	base := serverURL(cfg.Server)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(base + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", base)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	emb := ollama.New(cfg.Ollama.BaseURL, ollama.Options{})
	if emb.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", emb.BaseURL())
		if emb.HasModel(ctx, cfg.Ollama.EmbedModel) {
			printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		} else {
			printStatus("Embed model", "%s (not pulled)", cfg.Ollama.EmbedModel)
		}
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Vector backend", "%s", cfg.Retrieval.VectorBackend)
	printStatus("Fallback policy", "%s", cfg.Synth.FallbackPolicy)

	if running {
		if c, err := newAPIClient(); err == nil {
			var stats cacheStats
			if c.call(ctx, http.MethodGet, "/v1/cache/stats", nil, &stats) == nil {
				printStatus("Cache", "%d live / %d entries, %d hits", stats.Live, stats.Entries, stats.Hits)
			}
			var datasets []datasetSummary
			if c.call(ctx, http.MethodGet, "/v1/datasets", nil, &datasets) == nil {
				printStatus("Datasets", "%d", len(datasets))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
