package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would take over a record owned by someone else.
	ErrConflict = errors.New("conflict")
)

// Dataset is a connected database together with its discovered schema.
type Dataset struct {
	ID         string
	OwnerID    string
	Name       string
	Driver     string
	DSN        string
	SchemaJSON string
	AnalyzedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Document is an ingested source file. Its text lives in document_chunks.
type Document struct {
	ID          string
	OwnerID     string
	Filename    string
	ContentType string
	Metadata    string // JSON object stored as text
	ChunkCount  int
	Status      string // "pending", "ready", "failed"
	CreatedAt   time.Time
}

const (
	DocumentPending = "pending"
	DocumentReady   = "ready"
	DocumentFailed  = "failed"
)

// Chunk is one contiguous span of a document. Embedding is nil until the
// ingest worker has processed it.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Embedding  []float32
	Metadata   string // JSON object stored as text
	CreatedAt  time.Time
}

// CacheEntry is a stored query result.
type CacheEntry struct {
	Key            string
	QueryText      string
	DatasetID      string
	CallerID       string
	ResultJSON     string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	HitCount       int
	LastAccessedAt time.Time
}

// CacheStats summarises the query_cache table at a point in time.
type CacheStats struct {
	Entries int
	Live    int
	Hits    int64
}

// HistoryEntry is one row of the append-only query log.
type HistoryEntry struct {
	ID             string
	CallerID       string
	DatasetID      string
	QueryText      string
	Intent         string
	GeneratedSQL   string
	ResultCount    int
	ResponseTimeMs int64
	CacheHit       bool
	Sources        string // JSON array stored as text
	Status         string
	Error          string
	CreatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
