package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/ingest"
	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
	"github.com/kalambet/hrq/internal/synth"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// statusFor maps an engine error to an HTTP status and error type. The
// most specific cause wins, so a total failure caused by a missing dataset
// is a 404 rather than a 502.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, query.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, query.ErrDatasetNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, catalog.ErrInvalidSchema), errors.Is(err, ingest.ErrEmptyDocument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, catalog.ErrDatasetOwned):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, synth.ErrCannotSynthesize):
		return http.StatusUnprocessableEntity, "synthesis_error"
	case errors.Is(err, query.ErrEmbeddingUnavailable), errors.Is(err, query.ErrRetrievalBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable_error"
	case errors.Is(err, query.ErrTotalFailure):
		return http.StatusBadGateway, "api_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeError(w http.ResponseWriter, err error) {
	code, errType := statusFor(err)
	httpError(w, code, errType, "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
