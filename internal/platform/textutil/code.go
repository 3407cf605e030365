package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var upper = cases.Upper(language.Und)

// NormalizeCode canonicalises a human-entered code: NFKC folding (full-width to ASCII), trimmed,
// upper-cased and with inner whitespace removed.
func NormalizeCode(code string) string {
	folded := norm.NFKC.String(code)
	folded = strings.Join(strings.Fields(folded), "")
	return upper.String(folded)
}
