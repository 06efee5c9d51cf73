// Package csv provides streaming CSV reading for large sources and the codec
// used for chunk artifacts.
//
// Reader emits rows one at a time without whole-file buffering. Rows whose
// width differs from the header, and records encoding/csv cannot parse, are
// soft errors: they are reported through the onMalformed callback and
// skipped. Anything else (I/O failures) is fatal.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Options tunes the underlying encoding/csv reader.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// LazyQuotes relaxes quote handling for sloppy exports.
	LazyQuotes bool
}

// Reader streams data rows after the header.
type Reader struct {
	cr          *csv.Reader
	header      []string
	onMalformed func(line int, err error)
}

// NewReader reads the header from r. onMalformed may be nil.
func NewReader(r io.Reader, opt Options, onMalformed func(line int, err error)) (*Reader, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	// Width is enforced against the header below so mismatches are soft.
	cr.FieldsPerRecord = -1

	h, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read csv header: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return &Reader{
		cr:          cr,
		header:      StripHeaderBOM(h),
		onMalformed: onMalformed,
	}, nil
}

// Header returns the raw header row with any BOM removed.
func (r *Reader) Header() []string { return r.header }

// Read returns the next well-formed row, or io.EOF when the source is
// exhausted. The returned slice is owned by the caller.
func (r *Reader) Read() ([]string, error) {
	for {
		rec, err := r.cr.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.malformed(pe.StartLine, fmt.Errorf("parse: %w", err))
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) != len(r.header) {
			line, _ := r.cr.FieldPos(0)
			r.malformed(line, fmt.Errorf("incorrect number of fields: expected %d, got %d", len(r.header), len(rec)))
			continue
		}
		return rec, nil
	}
}

func (r *Reader) malformed(line int, err error) {
	if r.onMalformed != nil {
		r.onMalformed(line, err)
	}
}
