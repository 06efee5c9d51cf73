package mssql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqldb"

	mssql "github.com/microsoft/go-mssqldb"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		number int32
		want   error
	}{
		{2627, storage.ErrConstraintViolation},
		{515, storage.ErrConstraintViolation},
		{241, storage.ErrTypeMismatch},
		{8114, storage.ErrTypeMismatch},
		{1205, nil}, // deadlock victim
	}
	for _, tt := range tests {
		err := classify(fmt.Errorf("exec: %w", mssql.Error{Number: tt.number}))
		if tt.want == nil {
			if errors.Is(err, storage.ErrConstraintViolation) || errors.Is(err, storage.ErrTypeMismatch) {
				t.Fatalf("%d: unexpectedly classified", tt.number)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Fatalf("%d: got %v, want %v", tt.number, err, tt.want)
		}
	}
}

func TestDDL(t *testing.T) {
	t.Parallel()

	stmts := ddl()
	if len(stmts) != 2+len(storage.Indexes) {
		t.Fatalf("len(ddl) = %d", len(stmts))
	}
	if !strings.HasPrefix(stmts[2], "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_orders_customer_id'") {
		t.Fatalf("index guard missing: %s", stmts[2])
	}
	if got := msIdent("a]b"); got != "[a]]b]" {
		t.Fatalf("msIdent = %s", got)
	}
	if !strings.Contains(Dialect().UpsertSummary, "WITH (HOLDLOCK)") {
		t.Fatalf("upsert must hold the key range lock")
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewRepository(context.Background(), "sqlserver://%zz"); err == nil {
		t.Fatalf("expected DSN error")
	}
}

func TestFactoryUsesHook(t *testing.T) {
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })

	var got string
	newRepository = func(ctx context.Context, dsn string) (*sqldb.Repository, error) {
		got = dsn
		return nil, errors.New("stub")
	}
	_, _ = storage.New(context.Background(), storage.Config{Kind: "mssql", DSN: "sqlserver://sa@h"})
	if got != "sqlserver://sa@h" {
		t.Fatalf("dsn = %q", got)
	}
}

// TestRepository_Integration runs against a real server when TEST_MSSQL_DSN is set.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_MSSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MSSQL_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer repo.Close()

	for _, stmt := range []string{"DROP TABLE IF EXISTS dbo.Orders", "DROP TABLE IF EXISTS dbo.SalesSummary"} {
		if _, err := repo.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("drop: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := repo.CreateTablesIfAbsent(ctx); err != nil {
			t.Fatalf("CreateTablesIfAbsent #%d: %v", i, err)
		}
	}
	o := storage.Order{OrderID: "1", CustomerID: "C", ProductID: "P"}
	if err := repo.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	if err := repo.InsertOrder(ctx, o); !errors.Is(err, storage.ErrConstraintViolation) {
		t.Fatalf("duplicate: %v", err)
	}
	for _, v := range []float64{1, 2} {
		if err := repo.InsertSalesSummary(ctx, storage.SalesSummary{CustomerID: "C", ProductID: "P", TotalSales: v}); err != nil {
			t.Fatalf("InsertSalesSummary: %v", err)
		}
	}
	var total float64
	if err := repo.DB().QueryRowContext(ctx, "SELECT TotalSales FROM dbo.SalesSummary").Scan(&total); err != nil {
		t.Fatalf("select: %v", err)
	}
	if total != 3 {
		t.Fatalf("TotalSales = %v, want 3", total)
	}
}
