package builtin

import (
	"errors"
	"testing"
)

func TestParseDateYMD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2024-08-01", want: "2024-08-01"},
		{in: " 2024/08/02 ", want: "2024-08-02"},
		{in: "2024.08.03", want: "2024-08-03"},
		{in: "20240804", want: "2024-08-04"},
		{in: "2024-8-5", want: "2024-08-05"},
		{in: "2024-08-06 13:45:00", want: "2024-08-06"},
		{in: "2024-08-07T00:00:00Z", want: "2024-08-07"},
		{in: "01.08.2024", wantErr: true},
		{in: "2024-13-01", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDateYMD(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("ParseDateYMD(%q) err = %v, want ErrInvalidValue", tt.in, err)
				}
				if got != tt.in && got != "" {
					t.Fatalf("failed parse should keep original, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDateYMD(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDateYMD(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemoveCurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "15.00", want: "15.00"},
		{in: "$1,234.50", want: "1234.50"},
		{in: "€ 99", want: "99"},
		{in: "USD 12.5", want: "12.5"},
		{in: "12.5 EUR", want: "12.5"},
		{in: "(12.50)", want: "-12.50"},
		{in: "-3", want: "-3"},
		{in: "USD", wantErr: true},
		{in: "12#5", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "-$5", want: "-5"},
		{in: "USD12", want: "12"},
		{in: "1,234,567.8", want: "1234567.8"},
		{in: "1e3", wantErr: true},
		{in: "12abc34", wantErr: true},
		{in: "1.5k", wantErr: true},
		{in: "1,5", wantErr: true},
		{in: "12,34.0", wantErr: true},
		{in: "usd 5", wantErr: true},
		{in: "Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := RemoveCurrency(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RemoveCurrency(%q) = %q, want error", tt.in, got)
				}
				if got != tt.in {
					t.Fatalf("failed step should keep original, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemoveCurrency(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("RemoveCurrency(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "10", want: "10.0"},
		{in: "15.00", want: "15.0"},
		{in: "0.1", want: "0.1"},
		{in: "-2.50", want: "-2.5"},
		{in: " 7 ", want: "7.0"},
		{in: "abc", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "Inf", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ToFloat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ToFloat(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ToFloat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestToInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "42", want: "42"},
		{in: "-7", want: "-7"},
		{in: "10.0", want: "10"},
		{in: "10.5", wantErr: true},
		{in: "x", wantErr: true},
		{in: "9223372036854775807", want: "9223372036854775807"},
		{in: "9223372036854775808.0", wantErr: true},
		{in: "1e19", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ToInt(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ToInt(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ToInt(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	tests := map[float64]string{
		150:   "150.0",
		100:   "100.0",
		0:     "0.0",
		15.25: "15.25",
		-3:    "-3.0",
	}
	for in, want := range tests {
		if got := FormatFloat(in); got != want {
			t.Errorf("FormatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}
