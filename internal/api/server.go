// Package api exposes the query engine over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/ingest"
	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QueryEngine answers questions. *pipeline.Engine implements it.
type QueryEngine interface {
	ProcessQuery(ctx context.Context, queryText, datasetID, callerID string) (*query.Response, error)
}

// DatasetCatalog manages the caller's datasets. *catalog.Catalog implements it.
type DatasetCatalog interface {
	Import(ctx context.Context, callerID string, ds catalog.Dataset) error
	Get(ctx context.Context, datasetID, callerID string) (*catalog.Dataset, error)
	List(ctx context.Context, callerID string) ([]catalog.Dataset, error)
	Delete(ctx context.Context, datasetID, callerID string) error
}

// DocumentIngester splits and queues documents. *ingest.Service implements it.
type DocumentIngester interface {
	Ingest(ctx context.Context, ownerID string, doc ingest.Document) (storage.Document, error)
}

// DocumentStore reads and deletes stored documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id, ownerID string) (storage.Document, error)
	ListDocuments(ctx context.Context, ownerID string, limit int) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, id, ownerID string) error
}

// VectorDeleter removes a document's embeddings from a vector store that
// lives outside the document tables.
type VectorDeleter interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// HistoryLister reads the query log. *history.Recorder implements it.
type HistoryLister interface {
	List(ctx context.Context, callerID string, limit int) ([]query.Record, error)
}

// CacheAdmin reports on and sweeps the result cache. *cache.Cache implements it.
type CacheAdmin interface {
	Stats(ctx context.Context) (storage.CacheStats, error)
	Sweep(ctx context.Context) (int64, error)
}

// HealthChecker reports whether the local store answers. *storage.Store
// implements it.
type HealthChecker interface {
	Ping(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
}

// Deps holds the collaborators of the HTTP handler.
type Deps struct {
	Health    HealthChecker // optional
	Engine    QueryEngine
	Catalog   DatasetCatalog
	Ingester  DocumentIngester
	Documents DocumentStore
	Vectors   VectorDeleter // optional; nil when embeddings live with the chunks
	History   HistoryLister
	Cache     CacheAdmin
	Tokens    map[string]string // bearer token -> caller ID
	Timeout   time.Duration     // per-query deadline; zero means none
}

// NewHandler returns the HTTP API. /health is public; everything under /v1
// requires a bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps.Health))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Tokens))

		r.Post("/query", handleQuery(deps))

		r.Get("/datasets", handleListDatasets(deps))
		r.Get("/datasets/{id}", handleGetDataset(deps))
		r.Post("/datasets/{id}/schema", handleImportSchema(deps))
		r.Delete("/datasets/{id}", handleDeleteDataset(deps))

		r.Post("/documents", handleIngestDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Get("/history", handleHistory(deps))

		r.Get("/cache/stats", handleCacheStats(deps))
		r.Post("/cache/sweep", handleCacheSweep(deps))
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
}

func handleHealth(hc HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc == nil {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
			return
		}
		if err := hc.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable: %v", err)
			return
		}
		v, err := hc.SchemaVersion(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "reading schema version: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", SchemaVersion: v})
	}
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query     string `json:"query"`
	DatasetID string `json:"dataset_id"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		ctx := r.Context()
		if deps.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.Timeout)
			defer cancel()
		}

		resp, err := deps.Engine.ProcessQuery(ctx, req.Query, req.DatasetID, CallerID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HistoryItem is one entry of GET /v1/history.
type HistoryItem struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	DatasetID      string    `json:"dataset_id,omitempty"`
	Intent         string    `json:"intent"`
	GeneratedSQL   string    `json:"generated_sql,omitempty"`
	ResultCount    int       `json:"result_count"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CacheHit       bool      `json:"cache_hit"`
	Sources        []string  `json:"sources"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func toHistoryItems(recs []query.Record) []HistoryItem {
	items := make([]HistoryItem, len(recs))
	for i, rec := range recs {
		items[i] = HistoryItem{
			ID:             rec.ID,
			Query:          rec.QueryText,
			DatasetID:      rec.DatasetID,
			Intent:         string(rec.Intent),
			GeneratedSQL:   rec.GeneratedSQL,
			ResultCount:    rec.ResultCount,
			ResponseTimeMs: rec.ResponseTimeMs,
			CacheHit:       rec.CacheHit,
			Sources:        rec.Sources,
			Status:         rec.Status,
			Error:          rec.Error,
			Timestamp:      rec.Timestamp,
		}
	}
	return items
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r, 50, 500)
		if !ok {
			return
		}
		recs, err := deps.History.List(r.Context(), CallerID(r.Context()), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toHistoryItems(recs))
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Cache.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read cache stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": st.Entries,
			"live":    st.Live,
			"hits":    st.Hits,
		})
	}
}

func handleCacheSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Cache.Sweep(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cache sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

// parseLimit reads ?limit=, writing a 400 and returning false if it is
// malformed. Values above max are clamped.
func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
		return 0, false
	}
	return min(n, max), true
}
