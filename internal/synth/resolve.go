package synth

import (
	"fmt"
	"strings"

	"github.com/kalambet/hrq/internal/catalog"
)

// resolver maps words from a question onto names that exist in the schema.
// Nothing reaches a statement without passing through it.
type resolver struct {
	schema *catalog.Schema
	opts   *Options
}

// primary returns the main entity table.
func (r *resolver) primary() (*catalog.Table, error) {
	t, ok := r.schema.PrimaryTable(r.opts.PrimaryTable)
	if !ok {
		return nil, fmt.Errorf("%w: no tables", errUnresolved)
	}
	return t, nil
}

// table resolves a word such as "employees" or "employee" to a table.
func (r *resolver) table(word string) (*catalog.Table, error) {
	for _, v := range variants(word) {
		if t, ok := r.schema.Table(v); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: table %q", errUnresolved, word)
}

// column resolves a word to a column of t.
func (r *resolver) column(t *catalog.Table, word string) (*catalog.Column, error) {
	for _, v := range variants(word) {
		if c, ok := t.Column(v); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: column %q on %s", errUnresolved, word, t.Name)
}

// named resolves a configured column name on t.
func (r *resolver) named(t *catalog.Table, name string) (*catalog.Column, error) {
	if c, ok := t.Column(name); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: column %q on %s", errUnresolved, name, t.Name)
}

// groupRef is a grouping expression, optionally reached through a join.
type groupRef struct {
	expr  string
	join  string
	label string
	table string
}

// group resolves a grouping word against the primary table alias "t": a
// direct column first, then a foreign key into a table named like word,
// joined as alias "g" and labelled by its name-like column.
func (r *resolver) group(primary *catalog.Table, word string) (groupRef, error) {
	label := strings.ReplaceAll(word, " ", "_")
	if c, err := r.column(primary, word); err == nil && !c.IsForeignKey {
		return groupRef{expr: "t." + quoteIdent(c.Name), label: label}, nil
	}

	for _, c := range primary.Columns {
		refTable, refColumn := c.ReferencedTable, c.ReferencedColumn
		if !c.IsForeignKey {
			refTable, refColumn = relationshipFor(primary, c.Name)
		}
		if refTable == "" || refColumn == "" {
			continue
		}
		if !matchesWord(refTable, word) && !matchesWord(strings.TrimSuffix(strings.ToLower(c.Name), "_id"), word) {
			continue
		}
		ref, ok := r.schema.Table(refTable)
		if !ok {
			continue
		}
		if _, ok := ref.Column(refColumn); !ok {
			continue
		}
		labelCol := refColumn
		for _, candidate := range []string{"name", "title", "label"} {
			if lc, ok := ref.Column(candidate); ok {
				labelCol = lc.Name
				break
			}
		}
		return groupRef{
			expr: "g." + quoteIdent(labelCol),
			join: fmt.Sprintf(" JOIN %s g ON t.%s = g.%s",
				quoteIdent(ref.Name), quoteIdent(c.Name), quoteIdent(refColumn)),
			label: label,
			table: ref.Name,
		}, nil
	}
	return groupRef{}, fmt.Errorf("%w: grouping %q on %s", errUnresolved, word, primary.Name)
}

func relationshipFor(t *catalog.Table, column string) (string, string) {
	for _, rel := range t.Relationships {
		if strings.EqualFold(rel.Column, column) {
			return rel.ReferencedTable, rel.ReferencedColumn
		}
	}
	return "", ""
}

func matchesWord(name, word string) bool {
	for _, v := range variants(word) {
		if strings.EqualFold(name, v) {
			return true
		}
	}
	return false
}

// variants returns word as written, singular and plural, with spaces
// turned into underscores.
func variants(word string) []string {
	w := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(word)), " ", "_")
	if w == "" {
		return nil
	}
	out := []string{w}
	if s := singular(w); s != w {
		out = append(out, s)
	}
	if p := plural(w); p != w {
		out = append(out, p)
	}
	return out
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 3:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func plural(w string) string {
	switch {
	case strings.HasSuffix(w, "y") && len(w) > 1 && !strings.ContainsRune("aeiou", rune(w[len(w)-2])):
		return w[:len(w)-1] + "ies"
	case strings.HasSuffix(w, "s"), strings.HasSuffix(w, "x"), strings.HasSuffix(w, "ch"), strings.HasSuffix(w, "sh"):
		return w + "es"
	}
	return w + "s"
}
