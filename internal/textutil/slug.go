package textutil

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips combining marks so accented characters survive slugging
// as their base letters instead of underscores.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug converts a track title into a deterministic lowercase path segment.
// Accents fold to ascii, everything unsafe becomes an underscore.
func Slug(value string) string {
	folded, _, err := transform.String(asciiFold, value)
	if err != nil {
		folded = value
	}
	return SanitizeToken(folded)
}
