// Package sqldb implements storage.Repository over database/sql. Dialects
// supply the statements and the driver error classification; sqlite, mysql
// and mssql share everything else.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"csvpipeline/internal/storage"
)

// Dialect is the per-database part of a Repository.
type Dialect struct {
	// Name prefixes error messages, e.g. "sqlite".
	Name string
	// DDL is executed in order by CreateTablesIfAbsent. Every statement must be
	// idempotent.
	DDL []string
	// InsertOrder takes the values of storage.OrderArgs.
	InsertOrder string
	// UpsertSummary takes CustomerID, ProductID, TotalSales and adds to the
	// stored total on conflict.
	UpsertSummary string
	// Classify wraps driver errors with storage sentinels when it recognizes
	// them and returns err unchanged otherwise.
	Classify func(err error) error
}

// Repository is a database/sql backed storage.Repository.
type Repository struct {
	db *sql.DB
	d  Dialect
}

var _ storage.Repository = (*Repository)(nil)

// New wraps an open database handle.
func New(db *sql.DB, d Dialect) *Repository {
	if d.Classify == nil {
		d.Classify = func(err error) error { return err }
	}
	return &Repository{db: db, d: d}
}

// DB exposes the handle for backend-specific setup and tests.
func (r *Repository) DB() *sql.DB { return r.db }

// CreateTablesIfAbsent runs the dialect DDL.
func (r *Repository) CreateTablesIfAbsent(ctx context.Context) error {
	for _, stmt := range r.d.DDL {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create tables: %w", r.d.Name, err)
		}
	}
	return nil
}

// InsertOrder inserts one order.
func (r *Repository) InsertOrder(ctx context.Context, o storage.Order) error {
	if _, err := r.db.ExecContext(ctx, r.d.InsertOrder, storage.OrderArgs(o)...); err != nil {
		return fmt.Errorf("%s: insert order %q: %w", r.d.Name, o.OrderID, r.d.Classify(err))
	}
	return nil
}

// InsertSalesSummary upserts one summary row.
func (r *Repository) InsertSalesSummary(ctx context.Context, s storage.SalesSummary) error {
	if _, err := r.db.ExecContext(ctx, r.d.UpsertSummary, s.CustomerID, s.ProductID, s.TotalSales); err != nil {
		return fmt.Errorf("%s: upsert summary (%s, %s): %w", r.d.Name, s.CustomerID, s.ProductID, r.d.Classify(err))
	}
	return nil
}

// Close closes the pool.
func (r *Repository) Close() { _ = r.db.Close() }

// Classified wraps err so it matches both sentinel and the driver error.
func Classified(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
