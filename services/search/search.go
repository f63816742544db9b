package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/extraction"
)

// DocumentReader gives the search service a read-only pass over stored
// documents. An empty kind means every kind.
type DocumentReader interface {
	ForEachDocument(kind db.Kind, fn func(doc *db.Document) error) error
}

type Service struct {
	logger              logger.Logger
	documents           DocumentReader
	includePlaceholders bool
}

type Result struct {
	ID          int64      `json:"id"`
	Kind        db.Kind    `json:"kind"`
	CaseNumber  string     `json:"case_number"`
	RollNumber  string     `json:"roll_number"`
	Date        *time.Time `json:"date"`
	President   string     `json:"president"`
	Claimants   string     `json:"claimants"`
	Defendants  string     `json:"defendants"`
	Subject     string     `json:"subject"`
	Score       int        `json:"score"`
	PhraseCount int        `json:"phrase_count"`
	WordsCount  int        `json:"words_count"`
}

type Response struct {
	Query      string   `json:"query"`
	Results    []Result `json:"results"`
	Total      int      `json:"total_results"`
	SearchTime string   `json:"search_time"`
}

func New(logger logger.Logger, documents DocumentReader, includePlaceholders bool) *Service {
	return &Service{
		logger:              logger,
		documents:           documents,
		includePlaceholders: includePlaceholders,
	}
}

// Search ranks every stored document of the given kind against the query.
// An empty query is a valid request with no results.
func (s *Service) Search(queryString string, kind db.Kind) (*Response, error) {
	start := time.Now()
	queryString = strings.TrimSpace(queryString)

	response := &Response{
		Query:   queryString,
		Results: []Result{},
	}

	query := ParseQuery(queryString)
	if query.IsEmpty() {
		response.SearchTime = time.Since(start).String()
		return response, nil
	}

	var corpus []Entry
	documents := make(map[int64]*db.Document)
	err := s.documents.ForEachDocument(kind, func(doc *db.Document) error {
		entry := Entry{ID: doc.ID, Text: doc.ExtractedText, Date: doc.Date}
		if !s.includePlaceholders && isPlaceholder(doc.ExtractedText) {
			entry.Text = nil
		}
		corpus = append(corpus, entry)
		documents[doc.ID] = doc
		return nil
	})
	if err != nil {
		s.logger.Error("failed to read documents for search", "err", err.Error())
		return nil, fmt.Errorf("failed to read documents for search: %w", err)
	}

	for _, match := range Rank(corpus, query) {
		doc := documents[match.DocumentID]
		response.Results = append(response.Results, Result{
			ID:          doc.ID,
			Kind:        doc.Kind,
			CaseNumber:  doc.CaseNumber,
			RollNumber:  doc.RollNumber,
			Date:        doc.Date,
			President:   doc.President,
			Claimants:   doc.Claimants,
			Defendants:  doc.Defendants,
			Subject:     doc.Subject,
			Score:       match.Score,
			PhraseCount: match.PhraseCount,
			WordsCount:  match.WordsCount,
		})
	}
	response.Total = len(response.Results)
	response.SearchTime = time.Since(start).String()

	s.logger.Debug("search completed", "query", queryString, "kind", kind, "corpus_size", len(corpus), "results", response.Total)
	return response, nil
}

func isPlaceholder(text *string) bool {
	return text != nil && strings.HasPrefix(*text, extraction.FailurePlaceholderMarker)
}
