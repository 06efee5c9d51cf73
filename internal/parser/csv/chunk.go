package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ErrCorruptChunk is returned by DecodeChunk for unreadable artifacts.
var ErrCorruptChunk = errors.New("corrupt chunk")

// EncodeChunk renders header and rows as RFC 4180 CSV.
func EncodeChunk(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeChunk parses an artifact written by EncodeChunk. Every row must have
// the header's width.
func DecodeChunk(b []byte) (header []string, rows [][]string, err error) {
	cr := csv.NewReader(bytes.NewReader(b))
	header, err = cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty artifact", ErrCorruptChunk)
		}
		return nil, nil, fmt.Errorf("%w: header: %v", ErrCorruptChunk, err)
	}
	header = StripHeaderBOM(header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return header, rows, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
		}
		rows = append(rows, rec)
	}
}
