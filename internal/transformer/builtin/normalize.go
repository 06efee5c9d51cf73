package builtin

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const bom = '\ufeff'

// NormalizeHeader strips byte-order marks, composes the header into NFC and
// trims surrounding whitespace. Case is preserved.
func NormalizeHeader(s string) string {
	t := transform.Chain(
		runes.Remove(runes.Predicate(func(r rune) bool { return r == bom })),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(out)
}

// TrimCell trims incidental whitespace (including NBSP) and repairs the
// common mojibake of a non-breaking space left behind by Latin-1 round trips.
func TrimCell(s string) string {
	s = strings.ReplaceAll(s, "\u00c2\u00a0", " ")
	return strings.TrimFunc(s, unicode.IsSpace)
}

// IsBlank reports whether every cell is empty after trimming.
func IsBlank(cells []string) bool {
	for _, c := range cells {
		if TrimCell(c) != "" {
			return false
		}
	}
	return true
}
