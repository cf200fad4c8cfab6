package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var titleSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ", "+", " ", "[", " ", "]", " ", "(", " ", ")", " ")

// FoldTitle reduces a title to a comparable form: case-folded, without
// diacritics, with common separators turned into single spaces.
func FoldTitle(title string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, title)
	if err != nil {
		stripped = title
	}
	folded := cases.Fold().String(stripped)
	folded = titleSeparators.Replace(folded)
	return strings.Join(strings.Fields(folded), " ")
}
