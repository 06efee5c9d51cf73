// Package postgres implements the Postgres backend using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"csvpipeline/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}

const (
	insertOrderSQL = `INSERT INTO "Orders" ("OrderID", "OrderDate", "CustomerID", "ProductID", "Quantity", "UnitPrice", "TotalAmount")
VALUES ($1, $2::date, $3, $4, $5, $6, $7)`

	upsertSummarySQL = `INSERT INTO "SalesSummary" ("CustomerID", "ProductID", "TotalSales") VALUES ($1, $2, $3)
ON CONFLICT ("CustomerID", "ProductID") DO UPDATE SET "TotalSales" = "SalesSummary"."TotalSales" + EXCLUDED."TotalSales"`
)

// DDL returns the statements run by CreateTablesIfAbsent. Identifiers are
// quoted so the mixed-case names survive Postgres case folding.
func DDL() []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "Orders" (
	"OrderID" TEXT PRIMARY KEY,
	"OrderDate" DATE,
	"CustomerID" TEXT,
	"ProductID" TEXT,
	"Quantity" DOUBLE PRECISION,
	"UnitPrice" DOUBLE PRECISION,
	"TotalAmount" DOUBLE PRECISION
)`,
		`CREATE TABLE IF NOT EXISTS "SalesSummary" (
	"CustomerID" TEXT NOT NULL,
	"ProductID" TEXT NOT NULL,
	"TotalSales" DOUBLE PRECISION NOT NULL,
	PRIMARY KEY ("CustomerID", "ProductID")
)`,
	}
	for _, ix := range storage.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgIdent(ix.Name), pgIdent(ix.Table), strings.Join(mapIdent(ix.Columns), ", ")))
	}
	return stmts
}

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens a pgxpool for dsn. The pool connects lazily; the first
// statement surfaces connection errors.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// CreateTablesIfAbsent creates the tables and indexes.
func (r *Repository) CreateTablesIfAbsent(ctx context.Context) error {
	for _, stmt := range DDL() {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create tables: %w", err)
		}
	}
	return nil
}

// InsertOrder inserts one order.
func (r *Repository) InsertOrder(ctx context.Context, o storage.Order) error {
	if _, err := r.pool.Exec(ctx, insertOrderSQL, storage.OrderArgs(o)...); err != nil {
		return fmt.Errorf("postgres: insert order %q: %w", o.OrderID, classify(err))
	}
	return nil
}

// InsertSalesSummary upserts one summary row.
func (r *Repository) InsertSalesSummary(ctx context.Context, s storage.SalesSummary) error {
	if _, err := r.pool.Exec(ctx, upsertSummarySQL, s.CustomerID, s.ProductID, s.TotalSales); err != nil {
		return fmt.Errorf("postgres: upsert summary (%s, %s): %w", s.CustomerID, s.ProductID, classify(err))
	}
	return nil
}

// Close closes the pool.
func (r *Repository) Close() { r.pool.Close() }

// classify maps SQLSTATE classes: 23 is integrity constraint violation and
// 22 is data exception (bad dates, out of range numbers).
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "23"):
		return fmt.Errorf("%w: %w", storage.ErrConstraintViolation, err)
	case strings.HasPrefix(pgErr.Code, "22"):
		return fmt.Errorf("%w: %w", storage.ErrTypeMismatch, err)
	}
	return err
}

// pgIdent quotes an identifier.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
