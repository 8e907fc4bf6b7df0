package column

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldExtra covers letters that carry no combining mark under NFD and would
// otherwise be dropped.
var foldExtra = strings.NewReplacer(
	"ı", "i", "ß", "ss", "ø", "o", "ł", "l", "đ", "d", "æ", "ae", "œ", "oe", "þ", "th",
)

// Sanitize folds diacritics and reduces s to a lower-case ASCII identifier:
//
//  1. lower-case and trim
//  2. decompose, drop nonspacing marks, recompose ("Şehir" -> "sehir")
//  3. keep [a-z0-9]; collapse every other run into a single '_'
//  4. trim leading/trailing '_'
//
// An empty result means "no usable name"; callers fall back to positional names.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = foldExtra.Replace(strings.ToLower(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(t, s)
	if err != nil {
		ascii = s
	}

	var b strings.Builder
	b.Grow(len(ascii))
	pendingSep := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}
