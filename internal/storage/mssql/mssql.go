// Package mssql implements the Microsoft SQL Server backend using go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqldb"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, cfg.DSN)
	})
}

func ddl() []string {
	stmts := []string{
		`IF OBJECT_ID(N'dbo.Orders', N'U') IS NULL
CREATE TABLE dbo.Orders (
	OrderID NVARCHAR(64) NOT NULL PRIMARY KEY,
	OrderDate DATE NULL,
	CustomerID NVARCHAR(64) NULL,
	ProductID NVARCHAR(64) NULL,
	Quantity FLOAT NULL,
	UnitPrice FLOAT NULL,
	TotalAmount FLOAT NULL
)`,
		`IF OBJECT_ID(N'dbo.SalesSummary', N'U') IS NULL
CREATE TABLE dbo.SalesSummary (
	CustomerID NVARCHAR(64) NOT NULL,
	ProductID NVARCHAR(64) NOT NULL,
	TotalSales FLOAT NOT NULL,
	CONSTRAINT PK_SalesSummary PRIMARY KEY (CustomerID, ProductID)
)`,
	}
	for _, ix := range storage.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'dbo.%s'))\nCREATE INDEX %s ON dbo.%s (%s)",
			ix.Name, ix.Table, msIdent(ix.Name), ix.Table, strings.Join(mapIdent(ix.Columns), ", ")))
	}
	return stmts
}

// Dialect returns the SQL Server statements. The summary upsert is a MERGE
// under HOLDLOCK so concurrent loaders cannot both insert the same pair.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name: "mssql",
		DDL:  ddl(),
		InsertOrder: `INSERT INTO dbo.Orders (OrderID, OrderDate, CustomerID, ProductID, Quantity, UnitPrice, TotalAmount)
VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
		UpsertSummary: `MERGE dbo.SalesSummary WITH (HOLDLOCK) AS t
USING (SELECT @p1 AS CustomerID, @p2 AS ProductID, @p3 AS TotalSales) AS s
ON t.CustomerID = s.CustomerID AND t.ProductID = s.ProductID
WHEN MATCHED THEN UPDATE SET TotalSales = t.TotalSales + s.TotalSales
WHEN NOT MATCHED THEN INSERT (CustomerID, ProductID, TotalSales) VALUES (s.CustomerID, s.ProductID, s.TotalSales);`,
		Classify: classify,
	}
}

// NewRepository validates dsn, opens a pool and pings it.
func NewRepository(ctx context.Context, dsn string) (*sqldb.Repository, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqldb.New(db, Dialect()), nil
}

func classify(err error) error {
	var me mssql.Error
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case 2627, 2601, 547, 515: // PK, unique index, FK/check, NOT NULL
		return sqldb.Classified(storage.ErrConstraintViolation, err)
	case 245, 8114, 241: // conversion failures
		return sqldb.Classified(storage.ErrTypeMismatch, err)
	}
	return err
}

func msIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
