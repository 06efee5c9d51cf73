package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"csvpipeline/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{"23505", storage.ErrConstraintViolation},
		{"23502", storage.ErrConstraintViolation},
		{"22007", storage.ErrTypeMismatch},
		{"22P02", storage.ErrTypeMismatch},
		{"40001", nil},
	}
	for _, tt := range tests {
		err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code}))
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			t.Fatalf("%s: driver error lost", tt.code)
		}
		if tt.want == nil {
			if errors.Is(err, storage.ErrConstraintViolation) || errors.Is(err, storage.ErrTypeMismatch) {
				t.Fatalf("%s: unexpectedly classified: %v", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: got %v, want %v", tt.code, err, tt.want)
		}
	}

	plain := errors.New("conn reset")
	if classify(plain) != plain {
		t.Fatalf("non-pg error must pass through")
	}
}

func TestDDL(t *testing.T) {
	t.Parallel()

	stmts := DDL()
	if len(stmts) != 2+len(storage.Indexes) {
		t.Fatalf("len(DDL) = %d", len(stmts))
	}
	for _, s := range stmts {
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Fatalf("statement is not idempotent: %s", s)
		}
	}
	if !strings.Contains(stmts[len(stmts)-1], `"idx_sales_summary_total_sales" ON "SalesSummary" ("TotalSales")`) {
		t.Fatalf("unexpected index DDL: %s", stmts[len(stmts)-1])
	}
	if got := pgIdent(`a"b`); got != `"a""b"` {
		t.Fatalf("pgIdent = %s", got)
	}
}

func TestFactoryUsesHook(t *testing.T) {
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })

	var gotDSN string
	newRepository = func(ctx context.Context, dsn string) (*Repository, error) {
		gotDSN = dsn
		return nil, errors.New("stub")
	}
	_, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://x"})
	if err == nil || err.Error() != "stub" {
		t.Fatalf("err = %v, want stub", err)
	}
	if gotDSN != "postgres://x" {
		t.Fatalf("dsn = %q", gotDSN)
	}
}

func TestNewRepository_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewRepository(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

// TestRepository_Integration runs against a real server when TEST_PG_DSN is set.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer repo.Close()

	if _, err := repo.pool.Exec(ctx, `DROP TABLE IF EXISTS "Orders", "SalesSummary"`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.CreateTablesIfAbsent(ctx); err != nil {
			t.Fatalf("CreateTablesIfAbsent #%d: %v", i, err)
		}
	}

	date, qty := "2024-08-01", 2.0
	o := storage.Order{OrderID: "1", OrderDate: &date, CustomerID: "C", ProductID: "P", Quantity: &qty}
	if err := repo.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	if err := repo.InsertOrder(ctx, o); !errors.Is(err, storage.ErrConstraintViolation) {
		t.Fatalf("duplicate: %v", err)
	}
	bad := "2024-13-45"
	if err := repo.InsertOrder(ctx, storage.Order{OrderID: "2", OrderDate: &bad}); !errors.Is(err, storage.ErrTypeMismatch) {
		t.Fatalf("bad date: %v", err)
	}

	for _, v := range []float64{10, 20} {
		if err := repo.InsertSalesSummary(ctx, storage.SalesSummary{CustomerID: "C", ProductID: "P", TotalSales: v}); err != nil {
			t.Fatalf("InsertSalesSummary: %v", err)
		}
	}
	var total float64
	if err := repo.pool.QueryRow(ctx, `SELECT "TotalSales" FROM "SalesSummary"`).Scan(&total); err != nil {
		t.Fatalf("select: %v", err)
	}
	if total != 30 {
		t.Fatalf("TotalSales = %v, want 30", total)
	}
}
