package loader

import (
	"fmt"
	"slices"

	"csvpipeline/internal/schema"
	"csvpipeline/internal/storage"
	"csvpipeline/internal/transformer/builtin"
)

// columns holds the positions of the order fields in a cleansed header; -1
// marks an absent column.
type columns struct {
	orderID, orderDate, customerID, productID int
	quantity, unitPrice, totalAmount          int
}

func newColumns(header []string) (columns, error) {
	c := columns{
		orderID:     slices.Index(header, schema.OrderID),
		orderDate:   slices.Index(header, schema.OrderDate),
		customerID:  slices.Index(header, schema.CustomerID),
		productID:   slices.Index(header, schema.ProductID),
		quantity:    slices.Index(header, schema.Quantity),
		unitPrice:   slices.Index(header, schema.UnitPrice),
		totalAmount: slices.Index(header, schema.TotalAmount),
	}
	if c.orderID < 0 {
		return columns{}, fmt.Errorf("%w: cleansed header %v has no %s column", schema.ErrCorruptSchema, header, schema.OrderID)
	}
	return c, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return builtin.TrimCell(rec[i])
}

// order builds the Order for one record. Empty cells become NULL; a missing
// OrderID or a non-numeric amount is a row error.
func (c columns) order(rec []string) (storage.Order, error) {
	o := storage.Order{
		OrderID:    cell(rec, c.orderID),
		CustomerID: cell(rec, c.customerID),
		ProductID:  cell(rec, c.productID),
	}
	if o.OrderID == "" {
		return storage.Order{}, fmt.Errorf("%s: missing value", schema.OrderID)
	}
	if d := cell(rec, c.orderDate); d != "" {
		o.OrderDate = &d
	}

	var err error
	if o.Quantity, err = number(schema.Quantity, cell(rec, c.quantity)); err != nil {
		return storage.Order{}, err
	}
	if o.UnitPrice, err = number(schema.UnitPrice, cell(rec, c.unitPrice)); err != nil {
		return storage.Order{}, err
	}
	if o.TotalAmount, err = number(schema.TotalAmount, cell(rec, c.totalAmount)); err != nil {
		return storage.Order{}, err
	}
	return o, nil
}

func number(column, s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := builtin.ParseFloat(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", column, err)
	}
	return &f, nil
}

// Entry is one error log row: the failed record's fields plus the reason.
type Entry struct {
	Header []string
	Values []string
	Err    string
}

// rowEntry keeps the record as read. A transform annotation already in the
// Error column is kept in front of the load failure.
func rowEntry(header, rec []string, err error) Entry {
	e := Entry{Err: err.Error()}
	for i, h := range header {
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		if h == schema.ErrorColumn {
			if v != "" {
				e.Err = v + "; " + e.Err
			}
			continue
		}
		e.Header = append(e.Header, h)
		e.Values = append(e.Values, v)
	}
	return e
}

func summaryEntry(s storage.SalesSummary, err error) Entry {
	return Entry{
		Header: []string{schema.CustomerID, schema.ProductID, "TotalSales"},
		Values: []string{s.CustomerID, s.ProductID, builtin.FormatFloat(s.TotalSales)},
		Err:    err.Error(),
	}
}

// ErrorLogRecords lays entries out as one table. The header is the union of
// entry headers in first-seen order, then Error.
func ErrorLogRecords(entries []Entry) (header []string, rows [][]string) {
	pos := make(map[string]int)
	for _, e := range entries {
		for _, h := range e.Header {
			if _, ok := pos[h]; !ok {
				pos[h] = len(header)
				header = append(header, h)
			}
		}
	}
	errCol := len(header)
	header = append(header, schema.ErrorColumn)

	rows = make([][]string, len(entries))
	for i, e := range entries {
		rec := make([]string, len(header))
		for j, h := range e.Header {
			if j < len(e.Values) {
				rec[pos[h]] = e.Values[j]
			}
		}
		rec[errCol] = e.Err
		rows[i] = rec
	}
	return header, rows
}
