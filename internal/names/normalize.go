// Package names canonicalizes free-text person names for matching.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a name to its matching form: diacritics removed, hyphens
// and punctuation turned into spaces, apostrophes kept, whitespace collapsed,
// lowercased. "José-García" and "jose garcia" normalize to the same string.
func Normalize(s string) string {
	// A transform chain carries state, so it is built per call.
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r == '\'' || r == '’' || r == 'ʼ':
			b.WriteByte('\'')
		case unicode.Is(unicode.Dash, r):
			b.WriteByte(' ')
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the whitespace separated tokens of the normalized name.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}
