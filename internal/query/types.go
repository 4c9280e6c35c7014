// Package query holds the value types shared by every stage of query
// processing: intents, results, document matches and history records.
package query

import (
	"encoding/json"
	"fmt"
	"time"
)

// Intent selects which backends answer a question.
type Intent string

const (
	IntentSQL      Intent = "sql"
	IntentDocument Intent = "document"
	IntentHybrid   Intent = "hybrid"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentSQL, IntentDocument, IntentHybrid:
		return true
	}
	return false
}

// UsesSQL reports whether the relational leg runs for this intent.
func (i Intent) UsesSQL() bool { return i == IntentSQL || i == IntentHybrid }

// UsesDocuments reports whether the document leg runs for this intent.
func (i Intent) UsesDocuments() bool { return i == IntentDocument || i == IntentHybrid }

// SourceDatabase is the provenance label for rows produced by the relational leg.
const SourceDatabase = "database"

// Row is one relational result row keyed by column name.
type Row map[string]any

// DocumentMatch is a document chunk that cleared the similarity threshold.
type DocumentMatch struct {
	ChunkID        string            `json:"chunk_id"`
	DocumentID     string            `json:"document_id"`
	Text           string            `json:"text"`
	Similarity     float32           `json:"similarity"`
	SourceDocument string            `json:"source_document"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Result is the merged answer to a question.
//
// A nil SQLRows or DocumentMatches slice means the leg was not part of the
// answer; a non-nil empty slice means the leg ran and found nothing.
type Result struct {
	Intent          Intent          `json:"intent"`
	SQLRows         []Row           `json:"sql_rows"`
	DocumentMatches []DocumentMatch `json:"document_matches"`
	GeneratedSQL    string          `json:"generated_sql,omitempty"`
	SQLParams       []any           `json:"sql_params,omitempty"`
	Sources         []string        `json:"sources"`
}

// MarshalJSON omits the legs that are absent so the wire form keeps the
// nil/empty distinction.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Intent          Intent           `json:"intent"`
		SQLRows         *[]Row           `json:"sql_rows,omitempty"`
		DocumentMatches *[]DocumentMatch `json:"document_matches,omitempty"`
		GeneratedSQL    string           `json:"generated_sql,omitempty"`
		SQLParams       []any            `json:"sql_params,omitempty"`
		Sources         []string         `json:"sources"`
	}
	w := wire{
		Intent:       r.Intent,
		GeneratedSQL: r.GeneratedSQL,
		SQLParams:    r.SQLParams,
		Sources:      r.Sources,
	}
	if r.SQLRows != nil {
		w.SQLRows = &r.SQLRows
	}
	if r.DocumentMatches != nil {
		w.DocumentMatches = &r.DocumentMatches
	}
	if w.Sources == nil {
		w.Sources = []string{}
	}
	return json.Marshal(w)
}

// Count returns the number of rows plus the number of document matches.
func (r *Result) Count() int {
	return len(r.SQLRows) + len(r.DocumentMatches)
}

// Validate checks that the present legs agree with the intent.
func (r *Result) Validate() error {
	switch r.Intent {
	case IntentSQL:
		if r.DocumentMatches != nil {
			return fmt.Errorf("sql result carries document matches")
		}
		if r.SQLRows == nil {
			return fmt.Errorf("sql result has no rows slice")
		}
	case IntentDocument:
		if r.SQLRows != nil {
			return fmt.Errorf("document result carries sql rows")
		}
		if r.DocumentMatches == nil {
			return fmt.Errorf("document result has no matches slice")
		}
	case IntentHybrid:
		if r.SQLRows == nil || r.DocumentMatches == nil {
			return fmt.Errorf("hybrid result must carry both legs")
		}
	default:
		return fmt.Errorf("unknown intent %q", r.Intent)
	}
	return nil
}

// Meta is the performance metadata returned alongside a Result.
type Meta struct {
	ResponseTimeMs int64    `json:"response_time_ms"`
	CacheHit       bool     `json:"cache_hit"`
	ResultsCount   int      `json:"results_count"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Response is what a caller gets back for one question.
type Response struct {
	Result *Result `json:"result"`
	Meta   Meta    `json:"meta"`

	// Partial is non-nil when one hybrid leg failed; it wraps
	// ErrPartialHybridFailure and the leg's cause.
	Partial error `json:"-"`
}

// Record is one append-only history entry.
type Record struct {
	ID             string
	QueryText      string
	DatasetID      string
	Intent         Intent
	GeneratedSQL   string
	ResultCount    int
	ResponseTimeMs int64
	CacheHit       bool
	Sources        []string
	CallerID       string
	Status         string // "ok", "partial", "failed"
	Error          string
	Timestamp      time.Time
}

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)
