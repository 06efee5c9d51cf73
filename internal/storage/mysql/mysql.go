// Package mysql implements the MySQL backend using go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqldb"

	"github.com/go-sql-driver/mysql"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, cfg.DSN)
	})
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
func ddl() []string {
	orders := []string{
		"OrderID VARCHAR(64) NOT NULL PRIMARY KEY",
		"OrderDate DATE NULL",
		"CustomerID VARCHAR(64) NULL",
		"ProductID VARCHAR(64) NULL",
		"Quantity DOUBLE NULL",
		"UnitPrice DOUBLE NULL",
		"TotalAmount DOUBLE NULL",
	}
	summary := []string{
		"CustomerID VARCHAR(64) NOT NULL",
		"ProductID VARCHAR(64) NOT NULL",
		"TotalSales DOUBLE NOT NULL",
		"PRIMARY KEY (CustomerID, ProductID)",
	}
	for _, ix := range storage.Indexes {
		line := fmt.Sprintf("INDEX %s (%s)", ix.Name, strings.Join(ix.Columns, ", "))
		switch ix.Table {
		case storage.OrdersTable:
			orders = append(orders, line)
		case storage.SalesSummaryTable:
			summary = append(summary, line)
		}
	}
	return []string{
		"CREATE TABLE IF NOT EXISTS Orders (\n\t" + strings.Join(orders, ",\n\t") + "\n)",
		"CREATE TABLE IF NOT EXISTS SalesSummary (\n\t" + strings.Join(summary, ",\n\t") + "\n)",
	}
}

// Dialect returns the MySQL statements.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name: "mysql",
		DDL:  ddl(),
		InsertOrder: `INSERT INTO Orders (OrderID, OrderDate, CustomerID, ProductID, Quantity, UnitPrice, TotalAmount)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		UpsertSummary: `INSERT INTO SalesSummary (CustomerID, ProductID, TotalSales) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE TotalSales = TotalSales + VALUES(TotalSales)`,
		Classify: classify,
	}
}

// NewRepository validates dsn, opens a pool and pings it.
func NewRepository(ctx context.Context, dsn string) (*sqldb.Repository, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	// Strict mode turns silent truncation into errors the loader can isolate.
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["sql_mode"]; !ok {
		cfg.Params["sql_mode"] = "'STRICT_ALL_TABLES'"
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqldb.New(db, Dialect()), nil
}

func classify(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case 1062, 1452, 1048: // duplicate key, foreign key, NOT NULL
		return sqldb.Classified(storage.ErrConstraintViolation, err)
	case 1366, 1292, 1265: // incorrect value, bad datetime, truncated
		return sqldb.Classified(storage.ErrTypeMismatch, err)
	}
	return err
}
