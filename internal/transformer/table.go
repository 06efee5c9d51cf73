package transformer

import (
	"math"
	"slices"
	"strings"

	"csvpipeline/internal/schema"
	"csvpipeline/internal/transformer/builtin"
)

// FieldError annotates one problem found in a row.
type FieldError struct {
	Column  string
	Message string
	// Optional marks errors that do not make the row unusable: failures in
	// optional columns and values that were corrected in place.
	Optional bool
}

// Row is one output row. Values align with Table.Header.
type Row struct {
	Values []string
	Errors []FieldError
}

// ErrorText renders the row's Error cell.
func (r Row) ErrorText() string {
	msgs := make([]string, len(r.Errors))
	for i, fe := range r.Errors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

func (r *Row) addError(fe FieldError) {
	for _, have := range r.Errors {
		if have.Message == fe.Message {
			return
		}
	}
	r.Errors = append(r.Errors, fe)
}

func (r Row) hasErrorFor(column string) bool {
	return slices.ContainsFunc(r.Errors, func(fe FieldError) bool { return fe.Column == column })
}

// Table is a processed chunk. Header never contains the Error column; it is
// added last by Records.
type Table struct {
	Header []string
	Rows   []Row
}

// Index returns the position of column in Header, or -1.
func (t Table) Index(column string) int {
	return slices.Index(t.Header, column)
}

// Records renders the table for encoding: header plus Error, then one record
// per row.
func (t Table) Records() (header []string, rows [][]string) {
	header = append(slices.Clone(t.Header), schema.ErrorColumn)
	rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.Values...)
		rows[i] = append(rec, r.ErrorText())
	}
	return header, rows
}

// ValidateTotalAmount recomputes TotalAmount as Quantity x UnitPrice. A
// missing or different stored value is annotated and replaced. Differences
// up to tolerance are accepted. Running it twice is a no-op the second time.
//
// Tables without Quantity or UnitPrice are returned unchanged; a missing
// TotalAmount column is added.
func ValidateTotalAmount(t Table, tolerance float64) Table {
	qi, ui := t.Index(schema.Quantity), t.Index(schema.UnitPrice)
	if qi < 0 || ui < 0 {
		return t
	}
	ti := t.Index(schema.TotalAmount)
	if ti < 0 {
		t.Header = append(slices.Clone(t.Header), schema.TotalAmount)
		ti = len(t.Header) - 1
		for i := range t.Rows {
			t.Rows[i].Values = append(t.Rows[i].Values, "")
		}
	}

	for i := range t.Rows {
		row := &t.Rows[i]
		q, qerr := builtin.ParseFloat(row.Values[qi])
		u, uerr := builtin.ParseFloat(row.Values[ui])
		if qerr != nil || uerr != nil {
			col := schema.Quantity
			if qerr == nil {
				col = schema.UnitPrice
			}
			if !row.hasErrorFor(col) {
				row.addError(FieldError{Column: col, Message: "Cannot verify TotalAmount: " + col + " is not numeric."})
			}
			continue
		}

		calc := q * u
		stored := row.Values[ti]
		got := "missing"
		if stored != "" {
			got = stored
			if s, err := builtin.ParseFloat(stored); err == nil {
				if math.Abs(calc-s) <= tolerance {
					continue
				}
				got = builtin.FormatFloat(s)
			}
		}
		row.addError(FieldError{
			Column:   schema.TotalAmount,
			Message:  "Incorrect TotalAmount. Expected " + builtin.FormatFloat(calc) + ", got " + got + ".",
			Optional: true,
		})
		row.Values[ti] = builtin.FormatFloat(calc)
	}
	return t
}

// DropErrored removes rows with errors. With ignoreOptional, errors marked
// Optional do not count. It returns the kept table and the number dropped.
func DropErrored(t Table, ignoreOptional bool) (Table, int) {
	kept := t.Rows[:0:0]
	for _, r := range t.Rows {
		blocking := slices.ContainsFunc(r.Errors, func(fe FieldError) bool {
			return !ignoreOptional || !fe.Optional
		})
		if !blocking {
			kept = append(kept, r)
		}
	}
	dropped := len(t.Rows) - len(kept)
	t.Rows = kept
	return t, dropped
}
