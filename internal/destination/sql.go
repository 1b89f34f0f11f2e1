package destination

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQL writes through any database/sql driver.
type SQL struct {
	DB         *sql.DB
	DriverName string
}

// OpenSQL opens a database/sql destination.
func OpenSQL(driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if driver == DriverSQLite {
		// One connection keeps writers serialized and ":memory:" shared.
		db.SetMaxOpenConns(1)
	}
	return &SQL{DB: db, DriverName: driver}, nil
}

// NewSQL wraps an existing handle.
func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{DB: db, DriverName: driver}
}

func (s *SQL) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Exists asks the catalog where the dialect has one. Other drivers fall back
// to selecting from the table; only a missing-table error means false.
func (s *SQL) Exists(ctx context.Context, table string) (bool, error) {
	var exists bool
	switch s.DriverName {
	case DriverSQLite:
		name := table
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		err := s.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?", name).Scan(&exists)
		return exists, err
	case DriverPostgres, "pgx":
		err := s.DB.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", QuoteTable(table)).Scan(&exists)
		return exists, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", QuoteTable(table)))
	if err != nil {
		if isMissingTable(err) {
			return false, nil
		}
		return false, err
	}
	rows.Close()
	return true, nil
}

func isMissingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no such table", "does not exist", "doesn't exist", "invalid object name"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (s *SQL) Exec(ctx context.Context, stmt string) error {
	_, err := s.DB.ExecContext(ctx, stmt)
	return err
}

func (s *SQL) Replace(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error) {
	return s.write(ctx, table, columns, rows, true)
}

func (s *SQL) Append(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error) {
	return s.write(ctx, table, columns, rows, false)
}

func (s *SQL) write(ctx context.Context, table string, columns []string, rows []map[string]any, clear bool) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if clear {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+QuoteTable(table)); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	var written int64
	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertStatement(table, columns, s.placeholder))
		if err != nil {
			return 0, fmt.Errorf("prepare insert into %s: %w", table, err)
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, insertArgs(row, columns)...); err != nil {
				return 0, fmt.Errorf("insert into %s: %w", table, err)
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func (s *SQL) placeholder(i int) string {
	switch s.DriverName {
	case DriverPostgres, "pgx":
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
