// Package sqlite implements the embedded SQLite backend on modernc.org/sqlite
// (pure Go, no cgo). Tables are STRICT so column types are enforced.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqldb"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, cfg.DSN)
	})
}

// Dialect returns the SQLite statements.
func Dialect() sqldb.Dialect {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS Orders (
			OrderID TEXT PRIMARY KEY NOT NULL,
			OrderDate TEXT,
			CustomerID TEXT,
			ProductID TEXT,
			Quantity REAL,
			UnitPrice REAL,
			TotalAmount REAL
		) STRICT`,
		`CREATE TABLE IF NOT EXISTS SalesSummary (
			CustomerID TEXT NOT NULL,
			ProductID TEXT NOT NULL,
			TotalSales REAL NOT NULL,
			PRIMARY KEY (CustomerID, ProductID)
		) STRICT`,
	}
	for _, ix := range storage.Indexes {
		ddl = append(ddl, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			ix.Name, ix.Table, strings.Join(ix.Columns, ", ")))
	}
	return sqldb.Dialect{
		Name: "sqlite",
		DDL:  ddl,
		InsertOrder: `INSERT INTO Orders (OrderID, OrderDate, CustomerID, ProductID, Quantity, UnitPrice, TotalAmount)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		UpsertSummary: `INSERT INTO SalesSummary (CustomerID, ProductID, TotalSales) VALUES (?, ?, ?)
			ON CONFLICT (CustomerID, ProductID) DO UPDATE SET TotalSales = SalesSummary.TotalSales + excluded.TotalSales`,
		Classify: classify,
	}
}

// NewRepository opens the database. SQLite allows one writer at a time, so
// the pool is limited to a single connection and waits on locks.
func NewRepository(ctx context.Context, dsn string) (*sqldb.Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return sqldb.New(db, Dialect()), nil
}

// classify maps SQLite result codes. STRICT tables report type errors as the
// extended code SQLITE_CONSTRAINT_DATATYPE.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_DATATYPE, code&0xff == sqlite3.SQLITE_MISMATCH:
		return sqldb.Classified(storage.ErrTypeMismatch, err)
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		return sqldb.Classified(storage.ErrConstraintViolation, err)
	}
	return err
}
