// Package executor runs synthesized statements against the relational
// database a dataset points at.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/synth"
)

// ErrUnsupportedDriver is returned for datasets whose driver is not linked in.
var ErrUnsupportedDriver = errors.New("unsupported driver")

// DefaultMaxRows caps how many rows one statement may return.
const DefaultMaxRows = 1000

// Options configures a Registry.
type Options struct {
	MaxRows int
	// Timeout bounds a single statement. Zero means no extra deadline.
	Timeout time.Duration
	// Open replaces sql.Open, for tests.
	Open func(driver, dsn string) (*sql.DB, error)
}

// Registry keeps one connection pool per (driver, dsn) and runs statements
// on them. Pools are opened lazily and live until Close.
type Registry struct {
	opts Options

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// New creates a Registry.
func New(opts Options) *Registry {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Open == nil {
		opts.Open = sql.Open
	}
	return &Registry{opts: opts, pools: make(map[string]*sql.DB)}
}

// Execute runs stmt on the dataset's database and returns rows keyed by
// column name. Connection failures wrap query.ErrRetrievalBackendUnavailable.
func (r *Registry) Execute(ctx context.Context, ds *catalog.Dataset, stmt synth.Statement) ([]query.Row, error) {
	driver, err := NormalizeDriver(ds.Driver)
	if err != nil {
		return nil, err
	}
	db, err := r.pool(ctx, driver, ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", query.ErrRetrievalBackendUnavailable, ds.ID, err)
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, Rebind(driver, stmt.SQL), stmt.Args...)
	if err != nil {
		return nil, connFailure(ds, fmt.Errorf("executing %s statement: %w", stmt.Template, err))
	}
	defer rows.Close()
	out, err := scanRows(rows, r.opts.MaxRows)
	if err != nil {
		return nil, connFailure(ds, err)
	}
	return out, nil
}

// connFailure marks err as a backend outage when the connection itself
// failed, as opposed to the database rejecting the statement.
func connFailure(ds *catalog.Dataset, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: dataset %s: %w", query.ErrRetrievalBackendUnavailable, ds.ID, err)
	}
	return err
}

// Close closes every open pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, db := range r.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.pools, key)
	}
	return errors.Join(errs...)
}

func (r *Registry) pool(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("dataset has no connection string")
	}
	key := driver + "\x00" + dsn

	r.mu.Lock()
	db, ok := r.pools[key]
	r.mu.Unlock()
	if ok {
		return db, nil
	}

	db, err := r.opts.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	configurePool(db, driver)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pools[key]; ok {
		// Lost a race with another opener; keep the first pool.
		db.Close()
		return existing, nil
	}
	r.pools[key] = db
	return db, nil
}

// scanRows reads at most maxRows rows into maps.
func scanRows(rows *sql.Rows, maxRows int) ([]query.Row, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	out := make([]query.Row, 0)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(out) >= maxRows {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(query.Row, len(cols))
		for i, c := range cols {
			row[c.Name()] = normalizeValue(values[i], c.DatabaseTypeName())
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// normalizeValue turns driver-specific representations into JSON-friendly
// values: text bytes become strings, exact numerics become float64 and
// HUGEINTs become int64 when they fit.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		if isDecimal(dbType) {
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return f
			}
		}
		return string(x)
	case duckdb.Decimal:
		return x.Float64()
	case *duckdb.Decimal:
		return x.Float64()
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case interface{ Float64() float64 }:
		return x.Float64()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func isDecimal(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		return true
	}
	return false
}
