package query

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the request carried no usable caller identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDatasetNotFound means no discovered schema matches the dataset for this caller.
	ErrDatasetNotFound = errors.New("dataset not found")

	ErrEmbeddingUnavailable        = errors.New("embedding provider unavailable")
	ErrRetrievalBackendUnavailable = errors.New("retrieval backend unavailable")

	// ErrPartialHybridFailure marks a hybrid answer where one leg failed.
	// It is a warning: the surviving leg's data is still returned.
	ErrPartialHybridFailure = errors.New("partial hybrid failure")

	// ErrTotalFailure means no leg produced data.
	ErrTotalFailure = errors.New("total failure")
)

// Leg names used in error messages and warnings.
const (
	LegSQL      = "sql"
	LegDocument = "document"
)

// LegError records which leg of a query failed.
type LegError struct {
	Leg string
	Err error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("%s leg: %v", e.Leg, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }
