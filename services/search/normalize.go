package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	straightApostrophe = "'"
	curlyApostrophe    = "\u2019"
)

var punctuationReplacer = strings.NewReplacer(
	"\u2019", straightApostrophe,
	"\u2018", straightApostrophe,
	"\u201d", `"`,
	"\u201c", `"`,
	"\u00a0", " ",
)

// Letters with their combining marks, digits and both apostrophe styles.
var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}'\x{2019}]+`)

// NormalizePunctuation folds typographic quotes and non-breaking spaces to
// their ASCII forms, collapses whitespace runs to one space and trims.
func NormalizePunctuation(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(punctuationReplacer.Replace(s)), " ")
}

// StripAccents decomposes s and drops every combining mark.
func StripAccents(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.M)))
	stripped, _, err := transform.String(t, s)
	if err != nil {
		return strings.Map(dropMark, norm.NFD.String(s))
	}
	return stripped
}

func dropMark(r rune) rune {
	if unicode.Is(unicode.M, r) {
		return -1
	}
	return r
}

// NormalizeForMatch is the transform applied to both queries and document
// texts before any comparison. Whitespace is collapsed again after marks
// are dropped so that the result is stable under a second pass.
func NormalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(StripAccents(NormalizePunctuation(s)))), " ")
}

// CountNonOverlapping counts occurrences of sub in text scanning left to
// right, so "aaaa" holds two "aa" and "aaa" holds one.
func CountNonOverlapping(text string, sub string) int {
	if text == "" || sub == "" {
		return 0
	}
	return strings.Count(text, sub)
}

func alternateApostrophes(s string) string {
	switch {
	case strings.Contains(s, straightApostrophe):
		return strings.ReplaceAll(s, straightApostrophe, curlyApostrophe)
	case strings.Contains(s, curlyApostrophe):
		return strings.ReplaceAll(s, curlyApostrophe, straightApostrophe)
	default:
		return s
	}
}

func tokenize(s string) []string {
	var words []string
	for _, token := range wordPattern.FindAllString(s, -1) {
		if utf8.RuneCountInString(token) < 2 {
			continue
		}
		words = append(words, token)
	}
	return words
}
