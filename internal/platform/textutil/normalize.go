package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldReplacer = strings.NewReplacer("đ", "d", "Đ", "d")

// NormalizeName folds a product or variant name for comparison: diacritics removed, đ mapped to
// d, lower-cased, punctuation treated as space and runs of whitespace collapsed.
func NormalizeName(value string) string {
	value = foldReplacer.Replace(value)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(folded)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// NormalizePhone keeps digits only and folds the +84 / 84 country prefix to a leading 0.
func NormalizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "84") && len(digits) >= 11 {
		digits = "0" + digits[2:]
	}
	return digits
}
