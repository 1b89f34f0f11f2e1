package source

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nucleus/ucl-sync/pkg/entity"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// Postgres reads tables of one PostgreSQL schema.
type Postgres struct {
	*Base
	Schema string
}

// NewPostgres creates a PostgreSQL source.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	base, err := newBase("postgres", cfg.DSN, pgDialect{schema: schema})
	if err != nil {
		return nil, err
	}
	return &Postgres{Base: base, Schema: schema}, nil
}

// ListEntities returns the base tables of the schema.
func (p *Postgres) ListEntities(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := p.DB.QueryContext(ctx, query, p.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Describe returns columns in ordinal order and the primary key.
func (p *Postgres) Describe(ctx context.Context, name string) (*entity.Entity, error) {
	columnsQuery := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := p.DB.QueryContext(ctx, columnsQuery, p.Schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	defer rows.Close()

	e := &entity.Entity{Name: name}
	for rows.Next() {
		var c watermark.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		e.Columns = append(e.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(e.Columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", p.Schema, name)
	}

	pkQuery := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
			AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`
	pkRows, err := p.DB.QueryContext(ctx, pkQuery, p.Schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary key: %w", err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		e.PrimaryKey = append(e.PrimaryKey, col)
	}
	return e, pkRows.Err()
}

type pgDialect struct {
	schema string
}

func (pgDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d pgDialect) table(name string) string {
	return quoteIdent(d.schema) + "." + quoteIdent(name)
}

// after compares in UTC wall time so zone-less columns line up with the
// normalized cursor.
func (pgDialect) after(wm watermark.Result, cols []watermark.Column, ph string) string {
	bound := fmt.Sprintf("(%s::timestamptz AT TIME ZONE 'UTC')", ph)
	switch wm.Kind {
	case watermark.KindCombined:
		return fmt.Sprintf("(%s::date + %s::time) >= %s", quoteIdent(wm.DatePart), quoteIdent(wm.TimePart), bound)
	case watermark.KindDate:
		return fmt.Sprintf("%s >= %s", quoteIdent(wm.Column), bound)
	}
	if hasZone(wm.Column, cols) {
		return fmt.Sprintf("%s >= %s::timestamptz", quoteIdent(wm.Column), ph)
	}
	return fmt.Sprintf("%s >= %s", quoteIdent(wm.Column), bound)
}

func hasZone(column string, cols []watermark.Column) bool {
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			t := strings.ToLower(c.Type)
			return strings.Contains(t, "with time zone") || t == "timestamptz"
		}
	}
	return false
}
