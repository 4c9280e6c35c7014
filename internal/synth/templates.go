package synth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Template names, in default match order.
const (
	TemplateCountByGroup   = "count_by_group"
	TemplateTotalCount     = "total_count"
	TemplateAverageByGroup = "average_by_group"
	TemplateAverage        = "average"
	TemplateTopNPerGroup   = "top_n_per_group"
	TemplateTopNBy         = "top_n_by"
	TemplateTopN           = "top_n"
	TemplateDateRange      = "date_range"
	TemplateThreshold      = "threshold"
)

const groupWords = `(?:in each|for each|per|by)`

// DefaultPatterns are the phrase patterns for the built-in templates, matched
// against lowercased, punctuation-stripped text. Capture groups are part of
// each template's contract; overrides must keep them.
func DefaultPatterns() map[string]string {
	return map[string]string{
		TemplateCountByGroup:   `\b(?:how many|number of|count of|count)\s+(\w+)\b.*?\b` + groupWords + `\s+(\w+)`,
		TemplateTotalCount:     `\b(?:how many|total number of|number of|count of|count)\s+(\w+)`,
		TemplateAverageByGroup: `\b(?:average|avg|mean)\s+(\w+)\s+(?:in each|for each|per|by|across)\s+(\w+)`,
		TemplateAverage:        `\b(?:average|avg|mean)\s+(\w+)`,
		TemplateTopNPerGroup:   `\btop\s+(\d+)\b.*?\b(?:in each|for each|per)\s+(\w+)`,
		TemplateTopNBy:         `\btop\s+(\d+)\s+(?:\w+\s+)?by\s+(\w+)`,
		TemplateTopN:           `\b(?:top|highest paid|best paid)\s+(\d+)\b`,
		TemplateDateRange:      `\b(this|last) year\b|\b(?:hired|joined|started)\s+(in|since|before)\s+(\d{4})\b`,
		TemplateThreshold:      `\b(?:earning|earns|earn|making|makes|paid|salary|salaries|compensation)\s+(?:of\s+)?(over|above|more than|greater than|at least|under|below|less than|at most)\s+\$?(\d[\d,]*(?:\.\d+)?)\s*(k|m)?\b`,
	}
}

// templateOrder is the default match order: more specific shapes first.
var templateOrder = []string{
	TemplateCountByGroup,
	TemplateTotalCount,
	TemplateAverageByGroup,
	TemplateAverage,
	TemplateTopNPerGroup,
	TemplateTopNBy,
	TemplateTopN,
	TemplateDateRange,
	TemplateThreshold,
}

var builders = map[string]func(m []string, r *resolver) (Statement, error){
	TemplateCountByGroup:   buildCountByGroup,
	TemplateTotalCount:     buildTotalCount,
	TemplateAverageByGroup: buildAverageByGroup,
	TemplateAverage:        buildAverage,
	TemplateTopNPerGroup:   buildTopNPerGroup,
	TemplateTopNBy:         buildTopNBy,
	TemplateTopN:           buildTopN,
	TemplateDateRange:      buildDateRange,
	TemplateThreshold:      buildThreshold,
}

// DefaultTemplates returns the built-in templates in match order.
func DefaultTemplates() []Template {
	ts, err := Templates(nil)
	if err != nil {
		panic(fmt.Sprintf("synth: built-in patterns do not compile: %v", err))
	}
	return ts
}

// Templates returns the built-in templates with the given pattern overrides
// applied by template name.
func Templates(overrides map[string]string) ([]Template, error) {
	patterns := DefaultPatterns()
	for name, p := range overrides {
		if _, ok := patterns[name]; !ok {
			return nil, fmt.Errorf("unknown template %q", name)
		}
		patterns[name] = p
	}

	out := make([]Template, 0, len(templateOrder))
	for _, name := range templateOrder {
		re, err := regexp.Compile(patterns[name])
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out = append(out, Template{Name: name, Pattern: re, Build: builders[name]})
	}
	return out, nil
}

func buildCountByGroup(m []string, r *resolver) (Statement, error) {
	t, err := r.table(m[1])
	if err != nil {
		return Statement{}, err
	}
	g, err := r.group(t, m[2])
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL: fmt.Sprintf(`SELECT %s AS %s, COUNT(*) AS "count" FROM %s t%s GROUP BY %s ORDER BY "count" DESC`,
			g.expr, quoteIdent(g.label), quoteIdent(t.Name), g.join, g.expr),
		Tables: tables(t.Name, g.table),
	}, nil
}

func buildTotalCount(m []string, r *resolver) (Statement, error) {
	t, err := r.table(m[1])
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:    fmt.Sprintf(`SELECT COUNT(*) AS "count" FROM %s`, quoteIdent(t.Name)),
		Tables: []string{t.Name},
	}, nil
}

func buildAverageByGroup(m []string, r *resolver) (Statement, error) {
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	metric, err := r.column(t, m[1])
	if err != nil {
		return Statement{}, err
	}
	g, err := r.group(t, m[2])
	if err != nil {
		return Statement{}, err
	}
	alias := quoteIdent("average_" + metric.Name)
	return Statement{
		SQL: fmt.Sprintf(`SELECT %s AS %s, AVG(t.%s) AS %s FROM %s t%s GROUP BY %s ORDER BY %s DESC`,
			g.expr, quoteIdent(g.label), quoteIdent(metric.Name), alias, quoteIdent(t.Name), g.join, g.expr, alias),
		Tables: tables(t.Name, g.table),
	}, nil
}

func buildAverage(m []string, r *resolver) (Statement, error) {
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	metric, err := r.column(t, m[1])
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL: fmt.Sprintf(`SELECT AVG(%s) AS %s FROM %s`,
			quoteIdent(metric.Name), quoteIdent("average_"+metric.Name), quoteIdent(t.Name)),
		Tables: []string{t.Name},
	}, nil
}

func buildTopNPerGroup(m []string, r *resolver) (Statement, error) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Statement{}, fmt.Errorf("%w: bad count %q", errUnresolved, m[1])
	}
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	rank, err := r.named(t, r.opts.RankColumn)
	if err != nil {
		return Statement{}, err
	}
	g, err := r.group(t, m[2])
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL: fmt.Sprintf(`SELECT * FROM (SELECT t.*, %s AS %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY t.%s DESC) AS "rank" FROM %s t%s) ranked WHERE "rank" <= ? ORDER BY %s, "rank"`,
			g.expr, quoteIdent("group_"+g.label), g.expr, quoteIdent(rank.Name), quoteIdent(t.Name), g.join, quoteIdent("group_"+g.label)),
		Args:   []any{n},
		Tables: tables(t.Name, g.table),
	}, nil
}

func buildTopNBy(m []string, r *resolver) (Statement, error) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Statement{}, fmt.Errorf("%w: bad count %q", errUnresolved, m[1])
	}
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	col, err := r.column(t, m[2])
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:    fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC LIMIT ?`, quoteIdent(t.Name), quoteIdent(col.Name)),
		Args:   []any{n},
		Tables: []string{t.Name},
	}, nil
}

func buildTopN(m []string, r *resolver) (Statement, error) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Statement{}, fmt.Errorf("%w: bad count %q", errUnresolved, m[1])
	}
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	col, err := r.named(t, r.opts.RankColumn)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:    fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC LIMIT ?`, quoteIdent(t.Name), quoteIdent(col.Name)),
		Args:   []any{n},
		Tables: []string{t.Name},
	}, nil
}

// buildDateRange filters the date column by calendar year. Bounds are ISO
// date strings, which compare correctly against ISO-formatted date columns.
func buildDateRange(m []string, r *resolver) (Statement, error) {
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	col, err := r.named(t, r.opts.DateColumn)
	if err != nil {
		return Statement{}, err
	}
	q := "t." + quoteIdent(col.Name)
	order := fmt.Sprintf(" ORDER BY %s DESC LIMIT %d", q, r.opts.MaxRows)
	from := fmt.Sprintf("SELECT * FROM %s t WHERE ", quoteIdent(t.Name))

	var year int
	switch {
	case m[1] == "this":
		year = r.opts.Now().Year()
	case m[1] == "last":
		year = r.opts.Now().Year() - 1
	default:
		if year, err = strconv.Atoi(m[3]); err != nil {
			return Statement{}, fmt.Errorf("%w: bad year %q", errUnresolved, m[3])
		}
	}
	start, end := yearStart(year), yearStart(year+1)

	switch m[2] {
	case "since":
		return Statement{SQL: from + q + " >= ?" + order, Args: []any{start}, Tables: []string{t.Name}}, nil
	case "before":
		return Statement{SQL: from + q + " < ?" + order, Args: []any{start}, Tables: []string{t.Name}}, nil
	default:
		return Statement{SQL: from + q + " >= ? AND " + q + " < ?" + order, Args: []any{start, end}, Tables: []string{t.Name}}, nil
	}
}

func yearStart(y int) string {
	return fmt.Sprintf("%04d-01-01", y)
}

func buildThreshold(m []string, r *resolver) (Statement, error) {
	t, err := r.primary()
	if err != nil {
		return Statement{}, err
	}
	col, err := r.named(t, r.opts.AmountColumn)
	if err != nil {
		return Statement{}, err
	}
	amount, err := parseAmount(m[2], m[3])
	if err != nil {
		return Statement{}, fmt.Errorf("%w: %v", errUnresolved, err)
	}

	op, dir := ">", "DESC"
	switch m[1] {
	case "at least":
		op = ">="
	case "under", "below", "less than":
		op, dir = "<", "ASC"
	case "at most":
		op, dir = "<=", "ASC"
	}
	return Statement{
		SQL: fmt.Sprintf(`SELECT * FROM %s WHERE %s %s ? ORDER BY %s %s LIMIT %d`,
			quoteIdent(t.Name), quoteIdent(col.Name), op, quoteIdent(col.Name), dir, r.opts.MaxRows),
		Args:   []any{amount},
		Tables: []string{t.Name},
	}, nil
}

// parseAmount reads "100", "100,000", "1.5" with an optional k/m suffix.
// Whole results are returned as int64.
func parseAmount(num, suffix string) (any, error) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", num, err)
	}
	switch suffix {
	case "k":
		f *= 1_000
	case "m":
		f *= 1_000_000
	}
	if f == float64(int64(f)) {
		return int64(f), nil
	}
	return f, nil
}

func tables(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
