// Package textnorm canonicalizes contact values: accents, capitalization and phone numbers.
//
// Pipeline for names:
// 1 NFKD decomposition
// 2 drop combining diacritical marks U+0300..U+036F
// 3 map the Œ/œ ligatures, which have no decomposition
// 4 trim, then capitalize each whitespace separated word
package textnorm

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var combiningMarks = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
}

// transformers are stateful, so each call takes its own chain
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKD, runes.Remove(runes.In(combiningMarks)))
	},
}

var ligatures = strings.NewReplacer("Œ", "OE", "œ", "oe")

// StripAccents removes diacritics and surrounding whitespace. It never fails.
func StripAccents(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		out = s
	}

	return strings.TrimSpace(ligatures.Replace(out))
}

// TitleCaseWords upper-cases the first letter of each word and lower-cases the rest.
// Words are rejoined with single spaces.
func TitleCaseWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	first, size := utf8.DecodeRuneInString(w)
	if first == utf8.RuneError {
		return strings.ToLower(w)
	}
	return string(unicode.ToUpper(first)) + strings.ToLower(w[size:])
}

// FormatName is the canonical normalization applied to every field except e-mail
func FormatName(s string) string {
	return TitleCaseWords(StripAccents(s))
}

// FormatPhone rewrites a digit string as five space separated pairs,
// e.g. "612345678" -> "06 12 34 56 78". A single trailing ".0" left by
// numeric exports is dropped first. Anything that is not digits is returned unchanged.
func FormatPhone(raw string) string {
	compact := strings.Join(strings.Fields(raw), "")
	compact = strings.TrimSuffix(compact, ".0")
	if compact == "" || !isDigits(compact) {
		return raw
	}

	if n := len(compact); n < 10 {
		compact = strings.Repeat("0", 10-n) + compact
	}

	var b strings.Builder
	b.Grow(len(compact) + len(compact)/2)
	for i := 0; i < len(compact); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 2
		if end > len(compact) {
			end = len(compact)
		}
		b.WriteString(compact[i:end])
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeCell renders any non-empty cell as text and applies FormatName
func NormalizeCell(c contact.Cell) contact.Cell {
	if c.IsEmpty() {
		return contact.TextCell("")
	}
	return contact.TextCell(FormatName(c.String()))
}
