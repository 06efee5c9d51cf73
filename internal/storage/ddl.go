package storage

// Table names.
const (
	OrdersTable       = "Orders"
	SalesSummaryTable = "SalesSummary"
)

// Index describes one secondary index; dialects render it.
type Index struct {
	Name    string
	Table   string
	Columns []string
}

// Indexes lists the secondary indexes created alongside the tables.
var Indexes = []Index{
	{Name: "idx_orders_customer_id", Table: OrdersTable, Columns: []string{"CustomerID"}},
	{Name: "idx_orders_product_id", Table: OrdersTable, Columns: []string{"ProductID"}},
	{Name: "idx_orders_order_date", Table: OrdersTable, Columns: []string{"OrderDate"}},
	{Name: "idx_orders_customer_product", Table: OrdersTable, Columns: []string{"CustomerID", "ProductID"}},
	{Name: "idx_sales_summary_customer_id", Table: SalesSummaryTable, Columns: []string{"CustomerID"}},
	{Name: "idx_sales_summary_product_id", Table: SalesSummaryTable, Columns: []string{"ProductID"}},
	{Name: "idx_sales_summary_total_sales", Table: SalesSummaryTable, Columns: []string{"TotalSales"}},
}

// OrderArgs returns o's values in Orders column order.
func OrderArgs(o Order) []any {
	return []any{o.OrderID, o.OrderDate, o.CustomerID, o.ProductID, o.Quantity, o.UnitPrice, o.TotalAmount}
}

// OrderColumns is the Orders column order used by inserts.
var OrderColumns = []string{"OrderID", "OrderDate", "CustomerID", "ProductID", "Quantity", "UnitPrice", "TotalAmount"}
