// Package composer assembles the answers of the relational and document
// legs into a single query.Result.
package composer

import (
	"errors"
	"fmt"

	"github.com/kalambet/hrq/internal/query"
)

// SQLOutcome is what the relational leg produced.
type SQLOutcome struct {
	Rows   []query.Row
	SQL    string
	Params []any
	Err    error
}

// DocumentOutcome is what the document leg produced.
type DocumentOutcome struct {
	Matches []query.DocumentMatch
	Err     error
}

// Merged is a result plus the warnings that go with it. Partial is non-nil
// when a hybrid answer is missing one leg; it wraps
// query.ErrPartialHybridFailure and the leg's error.
type Merged struct {
	Result   *query.Result
	Warnings []string
	Partial  error
}

// Merge builds the result for intent from the legs that intent uses. A
// leg the intent does not use is ignored even if set.
//
// For hybrid intent a failed leg leaves its half present but empty and is
// reported through Partial; if both legs fail, or the only leg of a
// non-hybrid intent fails, Merge returns an error wrapping
// query.ErrTotalFailure and no result.
func Merge(intent query.Intent, sqlLeg *SQLOutcome, docLeg *DocumentOutcome) (*Merged, error) {
	if !intent.Valid() {
		return nil, fmt.Errorf("unknown intent %q", intent)
	}
	useSQL, useDocs := intent.UsesSQL(), intent.UsesDocuments()
	if useSQL && sqlLeg == nil {
		sqlLeg = &SQLOutcome{Err: errors.New("not run")}
	}
	if useDocs && docLeg == nil {
		docLeg = &DocumentOutcome{Err: errors.New("not run")}
	}

	var failed []error
	if useSQL && sqlLeg.Err != nil {
		failed = append(failed, &query.LegError{Leg: query.LegSQL, Err: sqlLeg.Err})
	}
	if useDocs && docLeg.Err != nil {
		failed = append(failed, &query.LegError{Leg: query.LegDocument, Err: docLeg.Err})
	}
	legs := 1
	if useSQL && useDocs {
		legs = 2
	}
	if len(failed) == legs {
		return nil, fmt.Errorf("%w: %w", query.ErrTotalFailure, errors.Join(failed...))
	}

	res := &query.Result{Intent: intent, Sources: []string{}}
	m := &Merged{Result: res}

	if useSQL {
		res.SQLRows = []query.Row{}
		if sqlLeg.Err == nil {
			if sqlLeg.Rows != nil {
				res.SQLRows = sqlLeg.Rows
			}
			res.Sources = append(res.Sources, query.SourceDatabase)
		}
		// The statement is reported even when it failed to run.
		res.GeneratedSQL = sqlLeg.SQL
		res.SQLParams = sqlLeg.Params
	}
	if useDocs {
		res.DocumentMatches = []query.DocumentMatch{}
		if docLeg.Err == nil {
			if docLeg.Matches != nil {
				res.DocumentMatches = docLeg.Matches
			}
			res.Sources = appendDocumentSources(res.Sources, docLeg.Matches)
		}
	}

	if len(failed) > 0 {
		m.Partial = fmt.Errorf("%w: %w", query.ErrPartialHybridFailure, failed[0])
		m.Warnings = []string{m.Partial.Error()}
	}
	return m, nil
}

// appendDocumentSources adds each distinct source filename in order of
// first appearance.
func appendDocumentSources(sources []string, matches []query.DocumentMatch) []string {
	seen := make(map[string]bool, len(sources)+len(matches))
	for _, s := range sources {
		seen[s] = true
	}
	for _, m := range matches {
		if m.SourceDocument == "" || seen[m.SourceDocument] {
			continue
		}
		seen[m.SourceDocument] = true
		sources = append(sources, m.SourceDocument)
	}
	return sources
}
