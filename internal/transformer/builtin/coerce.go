// Package builtin holds the cell-level steps used by schema rules. Every step
// is a pure function of one cell; failures are returned, never panicked.
package builtin

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidValue is wrapped by every step failure.
var ErrInvalidValue = errors.New("invalid value")

// dateLayouts are tried in order by ParseDateYMD. All are year-month-day.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"2006-1-2",
	"2006/1/2",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02 15:04:05",
}

// ParseDateYMD parses a year-month-day date, with or without a time part,
// and emits it as 2006-01-02.
func ParseDateYMD(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return s, fmt.Errorf("%w: empty date", ErrInvalidValue)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return s, fmt.Errorf("%w: %q is not a year-month-day date", ErrInvalidValue, s)
}

// RemoveCurrency strips a currency symbol or a leading or trailing ISO code
// (USD, EUR) and thousands separators from an amount. Accounting negatives
// "(12.50)" become "-12.50". Anything else that is not part of a plain
// decimal number, including letters inside it, is an error.
func RemoveCurrency(s string) (string, error) {
	orig := s
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	s = trimCurrency(s)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], trimCurrency(s[1:])
	}

	intPart, frac, hasFrac := strings.Cut(s, ".")
	intPart, err := ungroup(intPart)
	if err != nil {
		return orig, fmt.Errorf("%w: %q is not an amount", ErrInvalidValue, orig)
	}
	for _, r := range intPart + frac {
		if r < '0' || r > '9' {
			return orig, fmt.Errorf("%w: unexpected %q in amount %q", ErrInvalidValue, r, orig)
		}
	}
	out := intPart
	if hasFrac {
		out += "." + frac
	}
	if intPart == "" && frac == "" {
		return orig, fmt.Errorf("%w: %q has no amount", ErrInvalidValue, orig)
	}
	out = sign + out
	if _, err := strconv.ParseFloat(out, 64); err != nil {
		return orig, fmt.Errorf("%w: %q is not an amount", ErrInvalidValue, orig)
	}
	if neg && sign != "-" {
		out = "-" + strings.TrimPrefix(out, "+")
	}
	return out, nil
}

// trimCurrency removes surrounding whitespace, currency symbols and a
// three-letter upper-case code from either end of s.
func trimCurrency(s string) string {
	isSym := func(r rune) bool { return unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) }
	s = strings.TrimFunc(s, isSym)
	if len(s) >= 3 && isCode(s[:3]) && (len(s) == 3 || !unicode.IsLetter(rune(s[3]))) {
		s = s[3:]
	}
	if n := len(s); n >= 3 && isCode(s[n-3:]) && (n == 3 || !unicode.IsLetter(rune(s[n-4]))) {
		s = s[:n-3]
	}
	return strings.TrimFunc(s, isSym)
}

func isCode(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// ungroup drops thousands separators, which must split the integer part into
// groups of three digits.
func ungroup(s string) (string, error) {
	if !strings.Contains(s, ",") {
		return s, nil
	}
	groups := strings.Split(s, ",")
	if n := len(groups[0]); n == 0 || n > 3 {
		return s, errors.New("bad grouping")
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return s, errors.New("bad grouping")
		}
	}
	return strings.Join(groups, ""), nil
}

// ToFloat parses s as a finite float and re-emits it with FormatFloat.
func ToFloat(s string) (string, error) {
	f, err := ParseFloat(s)
	if err != nil {
		return s, err
	}
	return FormatFloat(f), nil
}

// ParseFloat parses a finite float after trimming whitespace.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrInvalidValue, s)
	}
	return f, nil
}

// ToInt parses s as an integer. Whole floats such as "10.0" are accepted.
func ToInt(s string) (string, error) {
	t := strings.TrimSpace(s)
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	f, err := ParseFloat(t)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return s, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return strconv.FormatInt(int64(f), 10), nil
}

// Identity returns s unchanged.
func Identity(s string) (string, error) { return s, nil }

// FormatFloat renders f in its shortest decimal form, always with a
// fractional part: 150 -> "150.0", 15.5 -> "15.5".
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}
