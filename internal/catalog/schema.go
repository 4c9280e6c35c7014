// Package catalog stores and serves the discovered structure of connected
// databases. The query engine only reads from it.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Schema describes one connected database.
type Schema struct {
	DatabaseID string  `json:"database_id"`
	Tables     []Table `json:"tables"`
}

type Table struct {
	Name           string         `json:"name"`
	Purpose        string         `json:"purpose,omitempty"`
	Columns        []Column       `json:"columns"`
	Relationships  []Relationship `json:"relationships,omitempty"`
	SampleRowCount int64          `json:"sample_row_count"`
}

type Column struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Nullable         bool   `json:"nullable"`
	IsPrimaryKey     bool   `json:"is_primary_key"`
	IsForeignKey     bool   `json:"is_foreign_key"`
	ReferencedTable  string `json:"referenced_table,omitempty"`
	ReferencedColumn string `json:"referenced_column,omitempty"`
}

// Relationship is a key link from one of the table's columns to another table.
type Relationship struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	Kind             string `json:"kind,omitempty"` // e.g. "many_to_one"
}

// Dataset is a stored schema together with the connection used to run
// statements against it.
type Dataset struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Driver     string    `json:"driver"`
	DSN        string    `json:"dsn,omitempty"`
	Schema     Schema    `json:"schema"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Validate checks structural invariants: unique non-empty table and column
// names, and foreign keys that name both the referenced table and column.
func (s *Schema) Validate() error {
	seenTables := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		key := strings.ToLower(t.Name)
		if seenTables[key] {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		seenTables[key] = true

		seenCols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("table %q: column with empty name", t.Name)
			}
			ck := strings.ToLower(c.Name)
			if seenCols[ck] {
				return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
			}
			seenCols[ck] = true
			if c.IsForeignKey && (c.ReferencedTable == "" || c.ReferencedColumn == "") {
				return fmt.Errorf("table %q: foreign key column %q must reference a table and column", t.Name, c.Name)
			}
		}
	}
	return nil
}

// Table looks a table up by name, ignoring case.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Column looks a column up by name, ignoring case.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryTable picks the main entity table: preferred if present, otherwise
// the table with the most sampled rows (ties broken by name).
func (s *Schema) PrimaryTable(preferred string) (*Table, bool) {
	if preferred != "" {
		if t, ok := s.Table(preferred); ok {
			return t, true
		}
	}
	if len(s.Tables) == 0 {
		return nil, false
	}
	idx := make([]int, len(s.Tables))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := s.Tables[idx[a]], s.Tables[idx[b]]
		if ta.SampleRowCount != tb.SampleRowCount {
			return ta.SampleRowCount > tb.SampleRowCount
		}
		return ta.Name < tb.Name
	})
	return &s.Tables[idx[0]], true
}
