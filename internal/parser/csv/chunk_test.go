package csv

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunk_RoundTrip(t *testing.T) {
	t.Parallel()

	header := []string{"OrderID", "Note", "Error"}
	rows := [][]string{
		{"1001", "plain", ""},
		{"1002", "has, comma", ""},
		{"1003", `has "quotes"`, "x"},
		{"1004", " padded ", ""},
		{"", "", ""},
	}

	b, err := EncodeChunk(header, rows)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	gotH, gotR, err := DecodeChunk(b)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if !reflect.DeepEqual(gotH, header) {
		t.Fatalf("header = %q, want %q", gotH, header)
	}
	if !reflect.DeepEqual(gotR, rows) {
		t.Fatalf("rows = %q, want %q", gotR, rows)
	}

	again, err := EncodeChunk(gotH, gotR)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(again) != string(b) {
		t.Fatalf("re-encoded bytes differ:\n%s\nvs\n%s", again, b)
	}
}

func TestDecodeChunk_Corrupt(t *testing.T) {
	t.Parallel()

	for name, in := range map[string]string{
		"empty":      "",
		"ragged":     "a,b\n1,2\n3\n",
		"bare quote": "a,b\n1,\"x\"y\n",
	} {
		if _, _, err := DecodeChunk([]byte(in)); !errors.Is(err, ErrCorruptChunk) {
			t.Errorf("%s: err = %v, want ErrCorruptChunk", name, err)
		}
	}
}
