// Package destination writes rows into the relational warehouse.
//
// Every write runs in one destination transaction: Replace clears the table
// and inserts the new rows, Append only inserts. On failure the table keeps
// its prior content.
package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// ChunkSize is the number of rows sent per round trip.
	ChunkSize = 1000
)

// Destination is the relational destination collaborator.
type Destination interface {
	// Exists reports whether table exists.
	Exists(ctx context.Context, table string) (bool, error)
	// Exec runs a DDL statement.
	Exec(ctx context.Context, stmt string) error
	// Replace truncates table and inserts rows in one transaction.
	Replace(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error)
	// Append inserts rows in one transaction.
	Append(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error)
	Close() error
}

// Config configures a destination connection.
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the destination described by cfg.
func Open(ctx context.Context, cfg Config) (Destination, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "postgresql", "pgx":
		return NewPostgres(ctx, cfg.DSN)
	case DriverSQLite, "sqlite3":
		return OpenSQL(DriverSQLite, cfg.DSN)
	}
	return nil, fmt.Errorf("unsupported destination driver %q", cfg.Driver)
}

// EnsureTable creates table when missing, using ddl when given and an
// inferred definition otherwise.
func EnsureTable(ctx context.Context, d Destination, table, ddl string, columns []string, rows []map[string]any) (bool, error) {
	exists, err := d.Exists(ctx, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	if exists {
		return false, nil
	}
	if strings.TrimSpace(ddl) == "" {
		ddl = InferDDL(table, columns, rows)
	}
	if err := d.Exec(ctx, ddl); err != nil {
		return false, fmt.Errorf("create table %s: %w", table, err)
	}
	return true, nil
}

// InferDDL builds a CREATE TABLE statement from column values.
func InferDDL(table string, columns []string, rows []map[string]any) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("  %s %s", QuoteIdent(c), inferSQLType(rows, c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", QuoteTable(table), strings.Join(defs, ",\n"))
}

func inferSQLType(rows []map[string]any, column string) string {
	kind := ""
	merge := func(k string) bool {
		switch {
		case kind == "" || kind == k:
			kind = k
		case (kind == "BIGINT" && k == "DOUBLE PRECISION") || (kind == "DOUBLE PRECISION" && k == "BIGINT"):
			kind = "DOUBLE PRECISION"
		default:
			kind = "TEXT"
			return false
		}
		return true
	}
	for _, row := range rows {
		v := row[column]
		if v == nil {
			continue
		}
		var k string
		switch t := v.(type) {
		case bool:
			k = "BOOLEAN"
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			k = "BIGINT"
		case float32, float64:
			k = "DOUBLE PRECISION"
		case time.Time:
			k = "TIMESTAMPTZ"
		case string:
			if looksLikeTimestamp(t) {
				k = "TIMESTAMPTZ"
			} else {
				k = "TEXT"
			}
		default:
			k = "TEXT"
		}
		if !merge(k) {
			break
		}
	}
	if kind == "" {
		return "TEXT"
	}
	return kind
}

// looksLikeTimestamp accepts RFC3339-style date-times with a time part.
func looksLikeTimestamp(s string) bool {
	if len(s) < len("2006-01-02T15:04:05") || (s[10] != 'T' && s[10] != ' ') {
		return false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// QuoteIdent quotes a single identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteTable quotes a possibly schema-qualified table name.
func QuoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// insertArgs projects rows onto columns, encoding nested values as JSON.
func insertArgs(row map[string]any, columns []string) []any {
	args := make([]any, len(columns))
	for i, c := range columns {
		switch v := row[c].(type) {
		case map[string]any, []any:
			data, err := json.Marshal(v)
			if err != nil {
				args[i] = fmt.Sprint(v)
			} else {
				args[i] = string(data)
			}
		default:
			args[i] = v
		}
	}
	return args
}

func chunks(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
