package ingest

import (
	"strings"
	"unicode"
)

// slugify keeps letters, digits, '-' and '_' and folds every other run of
// characters into a single '_'. Case is preserved.
func slugify(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
