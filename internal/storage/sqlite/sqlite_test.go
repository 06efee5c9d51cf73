package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqldb"
)

func newTestRepo(t *testing.T) *sqldb.Repository {
	t.Helper()
	repo, err := NewRepository(context.Background(), "file:"+filepath.Join(t.TempDir(), "sales.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.CreateTablesIfAbsent(context.Background()); err != nil {
		t.Fatalf("CreateTablesIfAbsent: %v", err)
	}
	return repo
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func TestCreateTables_Idempotent(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	if err := repo.CreateTablesIfAbsent(context.Background()); err != nil {
		t.Fatalf("second CreateTablesIfAbsent: %v", err)
	}

	var n int
	err := repo.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'`).Scan(&n)
	if err != nil {
		t.Fatalf("count indexes: %v", err)
	}
	if n != len(storage.Indexes) {
		t.Fatalf("indexes = %d, want %d", n, len(storage.Indexes))
	}
}

func TestInsertOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepo(t)

	o := storage.Order{
		OrderID: "1001", OrderDate: str("2024-08-01"), CustomerID: "C001", ProductID: "P001",
		Quantity: f64(10), UnitPrice: f64(15), TotalAmount: f64(150),
	}
	if err := repo.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	if err := repo.InsertOrder(ctx, storage.Order{OrderID: "1002", CustomerID: "C002", ProductID: "P002"}); err != nil {
		t.Fatalf("InsertOrder with NULLs: %v", err)
	}

	err := repo.InsertOrder(ctx, o)
	if !errors.Is(err, storage.ErrConstraintViolation) {
		t.Fatalf("duplicate insert: err = %v, want ErrConstraintViolation", err)
	}

	var total float64
	var date string
	if err := repo.DB().QueryRow(`SELECT TotalAmount, OrderDate FROM Orders WHERE OrderID = '1001'`).Scan(&total, &date); err != nil {
		t.Fatalf("select: %v", err)
	}
	if total != 150 || date != "2024-08-01" {
		t.Fatalf("row = (%v, %q)", total, date)
	}
}

func TestInsertSalesSummary_Accumulates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepo(t)

	for _, s := range []storage.SalesSummary{
		{CustomerID: "C1", ProductID: "P1", TotalSales: 10},
		{CustomerID: "C1", ProductID: "P1", TotalSales: 20},
		{CustomerID: "C2", ProductID: "P1", TotalSales: 5},
	} {
		if err := repo.InsertSalesSummary(ctx, s); err != nil {
			t.Fatalf("InsertSalesSummary(%+v): %v", s, err)
		}
	}

	got := map[string]float64{}
	rows, err := repo.DB().Query(`SELECT CustomerID || '/' || ProductID, TotalSales FROM SalesSummary`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got[k] = v
	}
	if len(got) != 2 || got["C1/P1"] != 30 || got["C2/P1"] != 5 {
		t.Fatalf("summary = %v", got)
	}
}

func TestClassify_TypeMismatch(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	_, err := repo.DB().Exec(`INSERT INTO Orders (OrderID, Quantity) VALUES ('x', 'ten')`)
	if err == nil {
		t.Fatalf("STRICT table accepted text in REAL column")
	}
	if !errors.Is(classify(err), storage.ErrTypeMismatch) {
		t.Fatalf("classify(%v) is not ErrTypeMismatch", err)
	}
	if plain := errors.New("x"); classify(plain) != plain {
		t.Fatalf("non-sqlite errors must pass through")
	}
}

func TestConcurrentInserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepo(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				errs <- repo.InsertSalesSummary(ctx, storage.SalesSummary{CustomerID: "C", ProductID: "P", TotalSales: 1})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}
	var total float64
	if err := repo.DB().QueryRow(`SELECT TotalSales FROM SalesSummary`).Scan(&total); err != nil {
		t.Fatalf("select: %v", err)
	}
	if total != 40 {
		t.Fatalf("TotalSales = %v, want 40", total)
	}
}

func TestRegistered(t *testing.T) {
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "r.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	repo.Close()

	if _, err := NewRepository(context.Background(), " "); err == nil {
		t.Fatalf("empty DSN should fail")
	}
}
