// Package synth turns natural-language questions into parameterized SQL
// using an ordered list of phrase templates checked against a discovered
// schema.
package synth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/hrq/internal/catalog"
)

// ErrCannotSynthesize is returned under FallbackStrict when no template
// produces a valid statement, and under any policy when the schema has no
// table to fall back to.
var ErrCannotSynthesize = errors.New("cannot synthesize statement")

// FallbackPolicy decides what happens when no template applies.
type FallbackPolicy string

const (
	// FallbackSilent emits a bounded projection over the primary table.
	FallbackSilent FallbackPolicy = "silent"
	// FallbackStrict reports ErrCannotSynthesize instead.
	FallbackStrict FallbackPolicy = "strict"
)

// ParsePolicy maps a config string to a policy. Empty means silent.
func ParsePolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackSilent:
		return FallbackSilent, nil
	case FallbackStrict:
		return FallbackStrict, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q (want silent or strict)", s)
}

// Statement is a SQL string with positional "?" placeholders.
type Statement struct {
	SQL      string
	Args     []any
	Template string
	Tables   []string
	Fallback bool
}

// TemplateFallback is the Template name of a fallback statement.
const TemplateFallback = "fallback"

// Options tunes which columns templates reach for.
type Options struct {
	Policy        FallbackPolicy
	PrimaryTable  string
	RankColumn    string // ordering for "top N" phrasing
	AmountColumn  string // compared by "earning over 100k" phrasing
	DateColumn    string // filtered by "hired this year" phrasing
	FallbackLimit int
	MaxRows       int
	Now           func() time.Time
}

// DefaultOptions returns the settings used for employee-style schemas.
func DefaultOptions() Options {
	return Options{
		Policy:        FallbackSilent,
		PrimaryTable:  "employees",
		RankColumn:    "salary",
		AmountColumn:  "salary",
		DateColumn:    "hire_date",
		FallbackLimit: 10,
		MaxRows:       100,
		Now:           time.Now,
	}
}

// Template maps a phrase pattern to a statement shape. Build returns
// errUnresolved when the schema lacks something the shape references.
type Template struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(m []string, r *resolver) (Statement, error)
}

var errUnresolved = errors.New("reference not in schema")

// Synthesizer is immutable after construction and safe for concurrent use.
type Synthesizer struct {
	templates []Template
	opts      Options
}

// New builds a synthesizer over templates, tried in order. Zero-valued
// options take their defaults.
func New(opts Options, templates []Template) *Synthesizer {
	def := DefaultOptions()
	if opts.Policy == "" {
		opts.Policy = def.Policy
	}
	if opts.RankColumn == "" {
		opts.RankColumn = def.RankColumn
	}
	if opts.AmountColumn == "" {
		opts.AmountColumn = def.AmountColumn
	}
	if opts.DateColumn == "" {
		opts.DateColumn = def.DateColumn
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = def.FallbackLimit
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = def.MaxRows
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	ts := make([]Template, len(templates))
	copy(ts, templates)
	return &Synthesizer{templates: ts, opts: opts}
}

// Synthesize returns the statement of the first matching template whose
// references all exist in schema. Otherwise the fallback policy applies.
func (s *Synthesizer) Synthesize(text string, schema *catalog.Schema) (Statement, error) {
	if schema == nil {
		schema = &catalog.Schema{}
	}
	normalized := normalize(text)
	r := &resolver{schema: schema, opts: &s.opts}

	for _, t := range s.templates {
		m := t.Pattern.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		stmt, err := t.Build(m, r)
		if err != nil {
			// First match wins: a matching template with a bad reference
			// goes straight to the fallback.
			return s.fallback(schema, fmt.Sprintf("template %s: %v", t.Name, err))
		}
		stmt.Template = t.Name
		return stmt, nil
	}
	return s.fallback(schema, "no template matched")
}

func (s *Synthesizer) fallback(schema *catalog.Schema, reason string) (Statement, error) {
	if s.opts.Policy == FallbackStrict {
		return Statement{}, fmt.Errorf("%w: %s", ErrCannotSynthesize, reason)
	}
	t, ok := schema.PrimaryTable(s.opts.PrimaryTable)
	if !ok {
		return Statement{}, fmt.Errorf("%w: schema has no tables", ErrCannotSynthesize)
	}
	return Statement{
		SQL:      fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(t.Name), s.opts.FallbackLimit),
		Template: TemplateFallback,
		Tables:   []string{t.Name},
		Fallback: true,
	}, nil
}

var nonWord = regexp.MustCompile(`[^a-z0-9$.,\s]+`)

// normalize lowercases text, drops punctuation other than what numbers
// need, and collapses whitespace.
func normalize(text string) string {
	s := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	s = strings.TrimRight(strings.TrimSpace(s), ".,")
	return strings.Join(strings.Fields(s), " ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
