// Package storage contains the relational store contract used by the loader,
// its records, and a registry of backends keyed by kind.
//
// Backends classify driver errors into ErrConstraintViolation and
// ErrTypeMismatch so callers can reason about row-level failures without
// knowing the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrConstraintViolation wraps key, uniqueness and NOT NULL failures.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrTypeMismatch wraps values the store cannot convert to the column type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Order is one row of the Orders table. Nil pointers are stored as NULL.
type Order struct {
	OrderID     string
	OrderDate   *string // YYYY-MM-DD
	CustomerID  string
	ProductID   string
	Quantity    *float64
	UnitPrice   *float64
	TotalAmount *float64
}

// SalesSummary is one row of the SalesSummary table.
type SalesSummary struct {
	CustomerID string
	ProductID  string
	TotalSales float64
}

// Repository is implemented by every relational backend. Each call is its own
// atomic unit; there is no transaction spanning calls.
type Repository interface {
	// CreateTablesIfAbsent creates Orders, SalesSummary and their indexes.
	CreateTablesIfAbsent(ctx context.Context) error
	InsertOrder(ctx context.Context, o Order) error
	// InsertSalesSummary adds s.TotalSales to any stored total for the same
	// (CustomerID, ProductID), inserting the pair when absent.
	InsertSalesSummary(ctx context.Context, s SalesSummary) error
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Re-registering replaces the
// previous factory, which tests use to stub backends.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
