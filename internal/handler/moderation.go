package handler

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// wordFilter flags text containing any configured offensive word. Matching
// ignores case and accents and works on whole words.
type wordFilter struct {
	words map[string]struct{}
}

func newWordFilter(words []string) *wordFilter {
	f := &wordFilter{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w = fold(w); w != "" {
			f.words[w] = struct{}{}
		}
	}
	return f
}

// fold lowercases s and strips combining marks (á → a).
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func (f *wordFilter) Contains(text string) bool {
	if len(f.words) == 0 {
		return false
	}
	for _, w := range strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := f.words[w]; ok {
			return true
		}
	}
	return false
}
