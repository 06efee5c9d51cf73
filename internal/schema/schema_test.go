package schema

import (
	"errors"
	"testing"
)

func TestNewRegistry_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cols []ColumnMapping
	}{
		{"empty source", []ColumnMapping{{Source: "", Standard: "a", Type: TypeString}}},
		{"duplicate source", []ColumnMapping{
			{Source: "a", Standard: "a", Type: TypeString},
			{Source: "a", Standard: "b", Type: TypeString},
		}},
		{"duplicate standard", []ColumnMapping{
			{Source: "a", Standard: "x", Type: TypeString},
			{Source: "b", Standard: "x", Type: TypeString},
		}},
		{"unknown type", []ColumnMapping{{Source: "a", Standard: "a", Type: "Money"}}},
		{"unknown post type", []ColumnMapping{{Source: "a", Standard: "a", Type: TypeString, PostProcessing: "Money"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewRegistry(tt.cols, nil); !errors.Is(err, ErrCorruptSchema) {
				t.Fatalf("err = %v, want ErrCorruptSchema", err)
			}
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	r := Sales()

	if c, ok := r.Lookup("OrderID"); !ok || c.Standard != OrderID {
		t.Fatalf("exact lookup failed: %+v %v", c, ok)
	}
	if c, ok := r.Lookup("totalamount"); !ok || c.Standard != TotalAmount || !c.Optional {
		t.Fatalf("case-insensitive lookup failed: %+v %v", c, ok)
	}
	if _, ok := r.Lookup("Region"); ok {
		t.Fatalf("unmapped column should not resolve")
	}

	aliased, err := r.WithAliases(map[string]string{"Order Number": "OrderID"})
	if err != nil {
		t.Fatalf("WithAliases: %v", err)
	}
	if c, ok := aliased.Lookup("Order Number"); !ok || c.Standard != OrderID {
		t.Fatalf("alias lookup failed: %+v %v", c, ok)
	}
	if _, ok := r.Lookup("Order Number"); ok {
		t.Fatalf("WithAliases mutated the original registry")
	}
	if _, err := r.WithAliases(map[string]string{"x": "Nope"}); !errors.Is(err, ErrCorruptSchema) {
		t.Fatalf("alias to unknown column: err = %v", err)
	}
}

func TestRegistry_ColumnsIsCopy(t *testing.T) {
	t.Parallel()

	r := Sales()
	cols := r.Columns()
	cols[0].Standard = "mutated"
	if r.Columns()[0].Standard != OrderID {
		t.Fatalf("Columns() exposed internal state")
	}
}

func TestRegistry_Coerce(t *testing.T) {
	t.Parallel()

	r := Sales()
	col := func(name string) ColumnMapping {
		c, ok := r.Lookup(name)
		if !ok {
			t.Fatalf("missing column %s", name)
		}
		return c
	}

	tests := []struct {
		col     string
		in      string
		want    string
		wantErr bool
	}{
		{col: "UnitPrice", in: "$15.00", want: "15.0"},
		{col: "TotalAmount", in: "1,500", want: "1500.0"},
		{col: "Quantity", in: "10", want: "10.0"},
		{col: "OrderDate", in: "2024/08/01", want: "2024-08-01"},
		{col: "CustomerID", in: "C001", want: "C001"},
		{col: "UnitPrice", in: "cheap", want: "cheap", wantErr: true},
		{col: "OrderDate", in: "yesterday", want: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		got, err := r.Coerce(col(tt.col), tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Coerce(%s, %q) err = %v, wantErr %v", tt.col, tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Coerce(%s, %q) = %q, want %q", tt.col, tt.in, got, tt.want)
		}
	}
}

func TestRule_ShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	rule := Rule{Type: "x", Steps: []Step{
		{Name: "upper", Fn: func(s string) (string, error) { calls++; return s + "!", nil }},
		{Name: "fail", Fn: func(s string) (string, error) { calls++; return "", errors.New("boom") }},
		{Name: "never", Fn: func(s string) (string, error) { calls++; return s, nil }},
	}}
	got, err := rule.Apply("a")
	if err == nil || err.Error() != "fail: boom" {
		t.Fatalf("err = %v, want fail: boom", err)
	}
	if got != "a" {
		t.Fatalf("got %q, want original cell", got)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
