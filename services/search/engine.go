package search

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const phraseWeight = 10

// Entry is one document as seen by the ranking engine.
type Entry struct {
	ID   int64
	Text *string
	Date *time.Time
}

type Match struct {
	DocumentID  int64      `json:"document_id"`
	Score       int        `json:"score"`
	PhraseCount int        `json:"phrase_count"`
	WordsCount  int        `json:"words_count"`
	Date        *time.Time `json:"date"`
}

// Query holds every form of a user query needed for matching. Phrase,
// AlternatePhrase and Words are already passed through NormalizeForMatch.
type Query struct {
	Original        string
	Punctuated      string
	Alternate       string
	Phrase          string
	AlternatePhrase string
	Words           []string
}

func ParseQuery(raw string) Query {
	query := Query{Original: raw}

	// Decomposed input would otherwise split words at every accent.
	query.Punctuated = NormalizePunctuation(norm.NFC.String(raw))
	if query.Punctuated == "" {
		return query
	}
	query.Alternate = alternateApostrophes(query.Punctuated)
	query.Phrase = NormalizeForMatch(query.Punctuated)
	query.AlternatePhrase = NormalizeForMatch(query.Alternate)

	for _, token := range tokenize(query.Punctuated) {
		if word := NormalizeForMatch(token); word != "" {
			query.Words = append(query.Words, word)
		}
	}

	return query
}

func (q Query) IsEmpty() bool {
	return q.Phrase == ""
}

// mayMatch is the cheap candidate check run before counting. It works on the
// normalized text, where both apostrophe styles are already folded, so a text
// passes exactly when Score would be positive.
func (q Query) mayMatch(normalizedText string) bool {
	if strings.Contains(normalizedText, q.Phrase) || strings.Contains(normalizedText, q.AlternatePhrase) {
		return true
	}
	for _, word := range q.Words {
		if strings.Contains(normalizedText, word) {
			return true
		}
	}
	return false
}

// Score counts phrase and word occurrences in a text that has already been
// through NormalizeForMatch.
func (q Query) Score(normalizedText string) (phraseCount int, wordsCount int) {
	if q.IsEmpty() || normalizedText == "" {
		return 0, 0
	}

	phraseCount = CountNonOverlapping(normalizedText, q.Phrase)
	if q.AlternatePhrase != q.Phrase {
		// Both forms denote the same phrase: never sum them.
		phraseCount = max(phraseCount, CountNonOverlapping(normalizedText, q.AlternatePhrase))
	}

	for _, word := range q.Words {
		wordsCount += CountNonOverlapping(normalizedText, word)
	}

	return phraseCount, wordsCount
}

// Rank scores every entry against the query and returns the ones with a
// positive score, best first. The corpus is not modified.
func Rank(corpus []Entry, query Query) []Match {
	if query.IsEmpty() {
		return []Match{}
	}

	matches := make([]Match, 0)
	for _, entry := range corpus {
		if entry.Text == nil || *entry.Text == "" {
			continue
		}

		normalizedText := NormalizeForMatch(*entry.Text)
		if !query.mayMatch(normalizedText) {
			continue
		}

		phraseCount, wordsCount := query.Score(normalizedText)
		score := phraseCount*phraseWeight + wordsCount
		if score <= 0 {
			continue
		}

		matches = append(matches, Match{
			DocumentID:  entry.ID,
			Score:       score,
			PhraseCount: phraseCount,
			WordsCount:  wordsCount,
			Date:        entry.Date,
		})
	}

	sortMatches(matches)
	return matches
}

// sortMatches orders by score, then by date (undated last), then by id.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !sameDate(a.Date, b.Date) {
			return dateAfter(a.Date, b.Date)
		}
		return a.DocumentID < b.DocumentID
	})
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// dateAfter reports whether a sorts before b in descending date order, with a
// missing date acting as the minimum.
func dateAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
