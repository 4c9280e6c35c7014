package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/synth"
)

var ctx = context.Background()

// hrDataset writes a small HR database to a temp file and returns a
// dataset pointing at it.
func hrDataset(t *testing.T) *catalog.Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hr.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE departments (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, salary REAL, hire_date TEXT, department_id INTEGER REFERENCES departments(id))`,
		`INSERT INTO departments VALUES (1, 'Engineering'), (2, 'Sales')`,
		`INSERT INTO employees VALUES
			(1, 'Jane', 140000, '2021-03-01', 1),
			(2, 'John', 95000, '2026-02-10', 1),
			(3, 'Ana', 120000, '2019-07-15', 2),
			(4, 'Raj', 70000, '2026-04-01', 2)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return &catalog.Dataset{
		ID:     "hr",
		Driver: "sqlite3",
		DSN:    path,
		Schema: catalog.Schema{Tables: []catalog.Table{
			{Name: "employees", Columns: []catalog.Column{
				{Name: "id", Type: "INTEGER", IsPrimaryKey: true},
				{Name: "name", Type: "TEXT"},
				{Name: "salary", Type: "REAL"},
				{Name: "hire_date", Type: "TEXT"},
				{Name: "department_id", Type: "INTEGER", IsForeignKey: true, ReferencedTable: "departments", ReferencedColumn: "id"},
			}},
			{Name: "departments", Columns: []catalog.Column{
				{Name: "id", Type: "INTEGER", IsPrimaryKey: true},
				{Name: "name", Type: "TEXT"},
			}},
		}},
	}
}

func synthesize(t *testing.T, ds *catalog.Dataset, text string) synth.Statement {
	t.Helper()
	s := synth.New(synth.DefaultOptions(), synth.DefaultTemplates())
	stmt, err := s.Synthesize(text, &ds.Schema)
	require.NoError(t, err)
	return stmt
}

func TestExecute_Count(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synthesize(t, ds, "How many employees do we have?"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4, rows[0]["count"])
}

func TestExecute_Threshold(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synthesize(t, ds, "employees earning over 100k"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jane", rows[0]["name"])
	assert.Equal(t, "Ana", rows[1]["name"])
}

func TestExecute_GroupedJoin(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synthesize(t, ds, "average salary by department"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Engineering", rows[0]["department"])
	assert.InDelta(t, 117500, rows[0]["average_salary"], 0.001)
	assert.Equal(t, "Sales", rows[1]["department"])
}

func TestExecute_TopNPerGroup(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synthesize(t, ds, "top 1 earners in each department"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	names := []any{rows[0]["name"], rows[1]["name"]}
	assert.ElementsMatch(t, []any{"Jane", "Ana"}, names)
}

func TestExecute_MaxRows(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{MaxRows: 3})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synth.Statement{SQL: `SELECT * FROM "employees"`})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExecute_EmptyResultIsNonNil(t *testing.T) {
	ds := hrDataset(t)
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	rows, err := r.Execute(ctx, ds, synth.Statement{SQL: `SELECT * FROM "employees" WHERE "salary" > ?`, Args: []any{1e9}})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExecute_ReusesPool(t *testing.T) {
	ds := hrDataset(t)
	opened := 0
	r := New(Options{Open: func(driver, dsn string) (*sql.DB, error) {
		opened++
		return sql.Open(driver, dsn)
	}})
	t.Cleanup(func() { r.Close() })

	stmt := synth.Statement{SQL: `SELECT 1 AS "one"`}
	for i := 0; i < 3; i++ {
		_, err := r.Execute(ctx, ds, stmt)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, opened)
}

func TestExecute_Unreachable(t *testing.T) {
	r := New(Options{Open: func(string, string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	}})
	ds := &catalog.Dataset{ID: "pg", Driver: "postgres", DSN: "postgres://nowhere/hr"}

	_, err := r.Execute(ctx, ds, synth.Statement{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, query.ErrRetrievalBackendUnavailable)
}

// droppingConnector hands out connections that die on first use.
type droppingConnector struct{}

func (droppingConnector) Connect(context.Context) (driver.Conn, error) { return droppingConn{}, nil }
func (droppingConnector) Driver() driver.Driver { return droppingDriver{} }

type droppingDriver struct{}

func (droppingDriver) Open(string) (driver.Conn, error) { return droppingConn{}, nil }

type droppingConn struct{}

func (droppingConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrBadConn }
func (droppingConn) Close() error { return nil }
func (droppingConn) Begin() (driver.Tx, error) { return nil, driver.ErrBadConn }
func (droppingConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return nil, driver.ErrBadConn
}

func TestExecute_ConnectionDroppedMidQuery(t *testing.T) {
	r := New(Options{Open: func(string, string) (*sql.DB, error) {
		return sql.OpenDB(droppingConnector{}), nil
	}})
	t.Cleanup(func() { r.Close() })
	ds := &catalog.Dataset{ID: "pg", Driver: "postgres", DSN: "postgres://flaky/hr"}

	_, err := r.Execute(ctx, ds, synth.Statement{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, query.ErrRetrievalBackendUnavailable)
	assert.ErrorIs(t, err, driver.ErrBadConn)
}

func TestExecute_BadStatementIsNotAnOutage(t *testing.T) {
	r := New(Options{})
	t.Cleanup(func() { r.Close() })

	_, err := r.Execute(ctx, hrDataset(t), synth.Statement{SQL: `SELECT * FROM "no_such_table"`})
	require.Error(t, err)
	assert.NotErrorIs(t, err, query.ErrRetrievalBackendUnavailable)
}

func TestExecute_UnsupportedDriver(t *testing.T) {
	r := New(Options{})
	_, err := r.Execute(ctx, &catalog.Dataset{ID: "x", Driver: "oracle", DSN: "x"}, synth.Statement{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestExecute_MissingDSN(t *testing.T) {
	r := New(Options{})
	_, err := r.Execute(ctx, &catalog.Dataset{ID: "x", Driver: "sqlite"}, synth.Statement{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, query.ErrRetrievalBackendUnavailable)
}

func TestExecute_DuckDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hr.duckdb")
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE employees (id INTEGER, name VARCHAR, salary DECIMAL(10,2))`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO employees VALUES (1, 'Jane', 140000.50), (2, 'John', 95000)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r := New(Options{})
	t.Cleanup(func() { r.Close() })
	ds := &catalog.Dataset{ID: "duck", Driver: "duckdb", DSN: path}

	rows, err := r.Execute(ctx, ds, synth.Statement{
		SQL:  `SELECT "name", "salary" FROM "employees" WHERE "salary" > ? ORDER BY "salary" DESC`,
		Args: []any{100000},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane", rows[0]["name"])
	assert.InDelta(t, 140000.5, rows[0]["salary"], 0.001)
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver, in, want string
	}{
		{DriverPostgres, `SELECT * FROM "t" WHERE a > ? AND b < ?`, `SELECT * FROM "t" WHERE a > $1 AND b < $2`},
		{DriverPostgres, `SELECT '?' AS "q?" WHERE a = ?`, `SELECT '?' AS "q?" WHERE a = $1`},
		{DriverPostgres, `SELECT 1`, `SELECT 1`},
		{DriverSQLite, `SELECT ? `, `SELECT ? `},
		{DriverDuckDB, `SELECT ?`, `SELECT ?`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.driver, tt.in), "%s %s", tt.driver, tt.in)
	}
}

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"sqlite3": DriverSQLite, "SQLite": DriverSQLite,
		"postgresql": DriverPostgres, "pg": DriverPostgres,
		"duckdb": DriverDuckDB,
	} {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeDriver("")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", normalizeValue([]byte("abc"), "TEXT"))
	assert.Equal(t, 12.5, normalizeValue([]byte("12.50"), "NUMERIC"))
	assert.Equal(t, "007", normalizeValue([]byte("007"), "VARCHAR"))
	assert.Equal(t, int64(3), normalizeValue(int64(3), "INTEGER"))
	assert.Equal(t, 140000.5, normalizeValue(duckdb.Decimal{Width: 10, Scale: 2, Value: big.NewInt(14000050)}, "DECIMAL(10,2)"))
	assert.Equal(t, int64(7), normalizeValue(big.NewInt(7), "HUGEINT"))
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	assert.Equal(t, "170141183460469231731687303715884105727", normalizeValue(huge, "HUGEINT"))
}
