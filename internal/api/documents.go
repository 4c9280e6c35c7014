package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/hrq/internal/ingest"
	"github.com/kalambet/hrq/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// IngestRequest is the body of POST /v1/documents. Type "text" (default)
// sends Content as-is; "file" sends it base64-encoded.
type IngestRequest struct {
	Filename string            `json:"filename"`
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// DocumentInfo describes a stored document.
type DocumentInfo struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	ChunkCount int               `json:"chunk_count"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toDocumentInfo(d storage.Document) DocumentInfo {
	var meta map[string]string
	if d.Metadata != "" {
		if err := json.Unmarshal([]byte(d.Metadata), &meta); err != nil {
			slog.Warn("document has malformed metadata", "id", d.ID, "error", err)
		}
	}
	return DocumentInfo{
		ID:         d.ID,
		Filename:   d.Filename,
		ChunkCount: d.ChunkCount,
		Status:     d.Status,
		Metadata:   meta,
		CreatedAt:  d.CreatedAt,
	}
}

func handleIngestDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		content := req.Content
		switch req.Type {
		case "", "text":
		case "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			content = string(decoded)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown type %q", req.Type)
			return
		}

		doc, err := deps.Ingester.Ingest(r.Context(), CallerID(r.Context()), ingest.Document{
			Filename: req.Filename,
			Text:     content,
			Metadata: req.Metadata,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":     doc.ID,
			"status": "queued",
			"chunks": doc.ChunkCount,
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r, 100, 1000)
		if !ok {
			return
		}
		docs, err := deps.Documents.ListDocuments(r.Context(), CallerID(r.Context()), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		out := make([]DocumentInfo, len(docs))
		for i, d := range docs {
			out[i] = toDocumentInfo(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Documents.GetDocument(r.Context(), chi.URLParam(r, "id"), CallerID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentInfo(doc))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Documents.DeleteDocument(r.Context(), id, CallerID(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		if deps.Vectors != nil {
			if err := deps.Vectors.DeleteDocument(r.Context(), id); err != nil {
				slog.Warn("failed to delete document vectors", "document_id", id, "error", err)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
