package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nucleus/ucl-sync/pkg/entity"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// SQLite reads tables of a SQLite database file.
type SQLite struct {
	*Base
}

// NewSQLite creates a SQLite source.
func NewSQLite(ctx context.Context, cfg Config) (*SQLite, error) {
	base, err := newBase("sqlite", cfg.DSN, sqliteDialect{})
	if err != nil {
		return nil, err
	}
	return &SQLite{Base: base}, nil
}

// ListEntities returns user tables.
func (s *SQLite) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

// Describe reads PRAGMA table_info.
func (s *SQLite) Describe(ctx context.Context, name string) (*entity.Entity, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	e := &entity.Entity{Name: name}
	for rows.Next() {
		var (
			cid     int
			col     watermark.Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		e.Columns = append(e.Columns, col)
		if pk > 0 {
			pks = append(pks, pkCol{name: col.Name, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(e.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found", name)
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, pk := range pks {
		e.PrimaryKey = append(e.PrimaryKey, pk.name)
	}
	return e, nil
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) table(name string) string { return quoteIdent(name) }

// after compares julian day numbers; the float comparison is inclusive so
// rounding never drops a later row.
func (sqliteDialect) after(wm watermark.Result, _ []watermark.Column, ph string) string {
	if wm.Kind == watermark.KindCombined {
		return fmt.Sprintf("julianday(%s || ' ' || %s) >= julianday(%s)", quoteIdent(wm.DatePart), quoteIdent(wm.TimePart), ph)
	}
	return fmt.Sprintf("julianday(%s) >= julianday(%s)", quoteIdent(wm.Column), ph)
}
