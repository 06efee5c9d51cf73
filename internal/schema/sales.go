package schema

import "csvpipeline/internal/transformer/builtin"

// Standard columns of the sales dataset.
const (
	OrderID     = "OrderID"
	OrderDate   = "OrderDate"
	CustomerID  = "CustomerID"
	ProductID   = "ProductID"
	Quantity    = "Quantity"
	UnitPrice   = "UnitPrice"
	TotalAmount = "TotalAmount"

	// ErrorColumn carries the row annotation and is always written last.
	ErrorColumn = "Error"
)

// SalesRules are the custom data types used by the sales mapping.
func SalesRules() []Rule {
	return []Rule{
		{Type: TypeDate, Steps: []Step{{Name: "parse_date_ymd", Fn: builtin.ParseDateYMD}}},
		{Type: TypeAmount, Steps: []Step{{Name: "remove_currency", Fn: builtin.RemoveCurrency}}},
	}
}

// SalesColumns is the sales column mapping in output order.
func SalesColumns() []ColumnMapping {
	return []ColumnMapping{
		{Source: "OrderID", Standard: OrderID, Type: TypeString},
		{Source: "OrderDate", Standard: OrderDate, Type: TypeDate},
		{Source: "CustomerID", Standard: CustomerID, Type: TypeString},
		{Source: "ProductID", Standard: ProductID, Type: TypeString},
		{Source: "Quantity", Standard: Quantity, Type: TypeFloat},
		{Source: "UnitPrice", Standard: UnitPrice, Type: TypeAmount, PostProcessing: TypeFloat},
		{Source: "TotalAmount", Standard: TotalAmount, Type: TypeAmount, PostProcessing: TypeFloat, Optional: true},
	}
}

// Sales builds the sales registry. The declaration is static, so a failure
// here is a programming error.
func Sales() *Registry {
	r, err := NewRegistry(SalesColumns(), SalesRules())
	if err != nil {
		panic(err)
	}
	return r
}
