package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/hrq/internal/catalog"
)

// SchemaImportRequest is the body of POST /v1/datasets/{id}/schema.
type SchemaImportRequest struct {
	Name       string         `json:"name"`
	Driver     string         `json:"driver"`
	DSN        string         `json:"dsn"`
	Schema     catalog.Schema `json:"schema"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// redact drops the connection string, which may carry credentials.
func redact(ds catalog.Dataset) catalog.Dataset {
	ds.DSN = ""
	return ds
}

func handleImportSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SchemaImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Driver == "" || req.DSN == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "driver and dsn are required")
			return
		}
		if req.AnalyzedAt.IsZero() {
			req.AnalyzedAt = time.Now().UTC()
		}

		ds := catalog.Dataset{
			ID:         chi.URLParam(r, "id"),
			Name:       req.Name,
			Driver:     req.Driver,
			DSN:        req.DSN,
			Schema:     req.Schema,
			AnalyzedAt: req.AnalyzedAt,
		}
		caller := CallerID(r.Context())
		if err := deps.Catalog.Import(r.Context(), caller, ds); err != nil {
			writeError(w, err)
			return
		}

		stored, err := deps.Catalog.Get(r.Context(), ds.ID, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redact(*stored))
	}
}

func handleGetDataset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redact(*ds))
	}
}

func handleListDatasets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Catalog.List(r.Context(), CallerID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]catalog.Dataset, len(list))
		for i, ds := range list {
			out[i] = redact(ds)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteDataset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Catalog.Delete(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context())); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
