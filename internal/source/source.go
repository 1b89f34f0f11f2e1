// Package source reads entities from relational databases.
//
// Architecture:
//
//	Base     - database/sql reader shared by all vendors
//	Postgres - information_schema introspection, lib/pq driver
//	SQLite   - PRAGMA introspection, modernc.org/sqlite driver
//
// Vendor sources embed Base and provide introspection plus the SQL dialect
// used for the watermark predicate.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nucleus/ucl-sync/pkg/entity"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Source is the relational source collaborator.
type Source interface {
	ListEntities(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, name string) (*entity.Entity, error)
	Read(ctx context.Context, q Query) (*Result, error)
	Close() error
}

// Query describes one read. When After is set and the watermark is known,
// only rows at or after After are requested; callers enforce strictness.
type Query struct {
	Entity    *entity.Entity
	Watermark watermark.Result
	After     *time.Time
	Limit     int
}

// Result is the materialized answer of a Query.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Config configures a source connection.
type Config struct {
	Driver string
	DSN    string
	Schema string
}

// Open connects to the source described by cfg.
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "postgresql":
		return NewPostgres(ctx, cfg)
	case DriverSQLite, "sqlite3":
		return NewSQLite(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported source driver %q", cfg.Driver)
}

// dialect renders vendor-specific SQL fragments.
type dialect interface {
	placeholder(n int) string
	table(name string) string
	// after renders "watermark >= placeholder" for the given watermark.
	after(wm watermark.Result, cols []watermark.Column, ph string) string
}

// Base implements reads over database/sql.
type Base struct {
	DB         *sql.DB
	DriverName string
	dialect    dialect
}

func newBase(driver, dsn string, d dialect) (*Base, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Base{DB: db, DriverName: driver, dialect: d}, nil
}

// Close releases database resources.
func (b *Base) Close() error {
	if b.DB != nil {
		return b.DB.Close()
	}
	return nil
}

// Ping verifies the connection.
func (b *Base) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.DB.PingContext(ctx)
}

// BuildQuery renders the SELECT statement and arguments for q.
func (b *Base) BuildQuery(q Query) (string, []any, error) {
	if q.Entity == nil || q.Entity.Name == "" {
		return "", nil, fmt.Errorf("query without entity")
	}

	cols := "*"
	if len(q.Entity.Columns) > 0 {
		quoted := make([]string, len(q.Entity.Columns))
		for i, c := range q.Entity.Columns {
			quoted[i] = quoteIdent(c.Name)
		}
		cols = strings.Join(quoted, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", cols, b.dialect.table(q.Entity.Name))

	var args []any
	if q.After != nil && q.Watermark.Found() {
		query += " WHERE " + b.dialect.after(q.Watermark, q.Entity.Columns, b.dialect.placeholder(1))
		args = append(args, watermark.Format(*q.After))
	}

	if order := orderColumns(q); len(order) > 0 {
		quoted := make([]string, len(order))
		for i, c := range order {
			quoted[i] = quoteIdent(c)
		}
		query += " ORDER BY " + strings.Join(quoted, ", ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args, nil
}

// Read runs q and materializes every row.
func (b *Base) Read(ctx context.Context, q Query) (*Result, error) {
	query, args, err := b.BuildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalize(values[i])
		}
		res.Rows = append(res.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return res, nil
}

// orderColumns sorts by watermark, then primary key, else the remaining
// declared columns.
func orderColumns(q Query) []string {
	var out []string
	seen := map[string]bool{}
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range q.Watermark.Columns() {
		add(c)
	}
	if len(q.Entity.PrimaryKey) > 0 {
		for _, c := range q.Entity.PrimaryKey {
			add(c)
		}
		return out
	}
	for _, c := range q.Entity.Columns {
		add(c.Name)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
