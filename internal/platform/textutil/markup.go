package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// StripMarkup removes every HTML element from free text such as customer notes and returns
// plain text with entities decoded.
func StripMarkup(value string) string {
	if !strings.ContainsAny(value, "<>&") {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
}
