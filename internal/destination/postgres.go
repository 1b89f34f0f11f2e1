package destination

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres writes through a pgx connection pool. Rows are sent as batched
// INSERTs so text-encoded timestamps coerce into typed columns.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect destination: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool reuses an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Exists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", QuoteTable(table)).Scan(&exists)
	return exists, err
}

func (p *Postgres) Exec(ctx context.Context, stmt string) error {
	_, err := p.pool.Exec(ctx, stmt)
	return err
}

func (p *Postgres) Replace(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error) {
	return p.write(ctx, table, columns, rows, true)
}

func (p *Postgres) Append(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error) {
	return p.write(ctx, table, columns, rows, false)
}

func (p *Postgres) write(ctx context.Context, table string, columns []string, rows []map[string]any, truncate bool) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if truncate {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+QuoteTable(table)); err != nil {
			return 0, fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	var written int64
	if len(rows) > 0 {
		stmt := insertStatement(table, columns, func(i int) string { return fmt.Sprintf("$%d", i) })
		for _, chunk := range chunks(rows, ChunkSize) {
			batch := &pgx.Batch{}
			for _, row := range chunk {
				batch.Queue(stmt, insertArgs(row, columns)...)
			}
			br := tx.SendBatch(ctx, batch)
			for range chunk {
				if _, err := br.Exec(); err != nil {
					_ = br.Close()
					return 0, fmt.Errorf("insert into %s: %w", table, err)
				}
			}
			if err := br.Close(); err != nil {
				return 0, fmt.Errorf("insert into %s: %w", table, err)
			}
			written += int64(len(chunk))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func insertStatement(table string, columns []string, placeholder func(int) string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdent(c)
		params[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", QuoteTable(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}
