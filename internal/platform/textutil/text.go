package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	upperCaser   = cases.Upper(language.Und)
)

// SanitizePlainText strips any markup, collapses whitespace and truncates to maxRunes.
// A maxRunes of zero or less disables truncation.
func SanitizePlainText(value string, maxRunes int) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// NormalizeCode folds full-width characters, removes spaces and upper-cases a user typed code
// such as a voucher code.
func NormalizeCode(code string) string {
	folded := width.Fold.String(code)
	folded = strings.Join(strings.Fields(folded), "")
	return upperCaser.String(folded)
}

// CompactMap trims values and drops entries whose key or value is blank. An empty result is nil.
func CompactMap(values map[string]string) map[string]string {
	var out map[string]string
	for key, value := range values {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[key] = value
	}
	return out
}
