package searchdb

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/logger"
)

const IndexingBatchSize = 100

const (
	indexFieldKind       = "kind"
	indexFieldCaseNumber = "case_number"
	indexFieldRollNumber = "roll_number"
	indexFieldPresident  = "president"
	indexFieldClerk      = "clerk"
	indexFieldClaimants  = "claimants"
	indexFieldDefendants = "defendants"
	indexFieldCounsel    = "counsel"
	indexFieldSubject    = "subject"
	indexFieldDate       = "date"
)

var quotedPhrasePattern = regexp.MustCompile(`"([^"]*)"`)

type BleveDB struct {
	indexPath string
	logger    logger.Logger
	index     bleve.Index
}

func New(logger logger.Logger, cfg *config.Config) (*BleveDB, error) {
	indexPath := filepath.Join(cfg.GetStoragePath(), cfg.GetIndexPath())
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		logger.Error("failed to create index directory", "err", err.Error(), "path", indexPath)
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	index, err := bleve.New(indexPath, createIndexMapping())
	if err != nil {
		index, err = bleve.Open(indexPath)
		if err != nil {
			logger.Error("could not open index", "err", err.Error())
			return nil, err
		}
	}
	return &BleveDB{indexPath: indexPath, logger: logger, index: index}, nil
}

func (b *BleveDB) BuildIndex(documents []Document) error {

	batch := b.index.NewBatch()

	for i, doc := range documents {

		err := batch.Index(doc.ID, doc)
		if err != nil {
			b.logger.Error("could not index document", "id", doc.ID, "err", err.Error())
			return err
		}

		if (i+1)%IndexingBatchSize == 0 {
			err = b.index.Batch(batch)
			if err != nil {
				return err
			}
			batch = b.index.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			b.logger.Error("could not index document", "err", err.Error())
			return err
		}
	}

	return nil
}

func createIndexMapping() mapping.IndexMapping {

	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Exact-match fields
	for _, field := range []string{indexFieldKind, indexFieldCaseNumber, indexFieldRollNumber} {
		fieldMapping := bleve.NewTextFieldMapping()
		fieldMapping.Analyzer = keyword.Name
		docMapping.AddFieldMappingsAt(field, fieldMapping)
	}

	// Names and parties, analyzed and stored for display
	for _, field := range []string{indexFieldPresident, indexFieldClerk, indexFieldClaimants, indexFieldDefendants, indexFieldCounsel} {
		fieldMapping := bleve.NewTextFieldMapping()
		fieldMapping.Analyzer = standard.Name
		docMapping.AddFieldMappingsAt(field, fieldMapping)
	}

	subjectFieldMapping := bleve.NewTextFieldMapping()
	subjectFieldMapping.Analyzer = standard.Name
	subjectFieldMapping.Store = false
	docMapping.AddFieldMappingsAt(indexFieldSubject, subjectFieldMapping)

	docMapping.AddFieldMappingsAt(indexFieldDate, bleve.NewDateTimeFieldMapping())

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

func (b *BleveDB) Search(queryString string, kind string, limit int, offset int) (*Response, error) {
	start := time.Now()

	searchQuery := b.buildSearchQuery(queryString, kind)

	searchRequest := bleve.NewSearchRequestOptions(searchQuery, limit, offset, false)
	searchRequest.Fields = []string{indexFieldKind, indexFieldCaseNumber, indexFieldPresident, indexFieldDate}
	searchRequest.SortBy([]string{"-_score", "-" + indexFieldDate})

	searchResult, err := b.index.Search(searchRequest)
	if err != nil {
		b.logger.Error("search failed", "err", err.Error())
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, len(searchResult.Hits))
	for i, hit := range searchResult.Hits {
		result := Result{
			ID:    hit.ID,
			Score: hit.Score,
		}

		if kind, ok := hit.Fields[indexFieldKind].(string); ok {
			result.Kind = kind
		}
		if caseNumber, ok := hit.Fields[indexFieldCaseNumber].(string); ok {
			result.CaseNumber = caseNumber
		}
		if president, ok := hit.Fields[indexFieldPresident].(string); ok {
			result.President = president
		}
		if date, ok := hit.Fields[indexFieldDate].(string); ok {
			result.Date = date
		}

		results[i] = result
	}

	response := &Response{
		Results:    results,
		Total:      searchResult.Total,
		MaxScore:   searchResult.MaxScore,
		SearchTime: time.Since(start).String(),
	}

	return response, nil
}

// buildSearchQuery matches quoted phrases exactly and the remaining terms
// against every metadata field. Case and roll numbers also match by prefix.
func (b *BleveDB) buildSearchQuery(queryString string, kind string) query.Query {

	const (
		boostForCaseNumber  = 5.0
		boostForParties     = 3.0
		boostForNames       = 2.0
		boostForSubject     = 1.0
		boostForPhraseMatch = 4.0
		boostForPrefixMatch = 1.5
	)

	quoted, remaining := parseQuotedQuery(queryString)

	var textQuery query.Query
	if len(quoted) == 0 && remaining == "" {
		textQuery = bleve.NewMatchAllQuery()
	} else {
		disjunctQuery := bleve.NewDisjunctionQuery()

		for _, phrase := range quoted {
			for _, field := range []string{indexFieldClaimants, indexFieldDefendants, indexFieldSubject, indexFieldPresident, indexFieldClerk, indexFieldCounsel} {
				phraseQuery := bleve.NewMatchPhraseQuery(phrase)
				phraseQuery.SetField(field)
				phraseQuery.SetBoost(boostForPhraseMatch)
				disjunctQuery.AddQuery(phraseQuery)
			}
		}

		if remaining != "" {
			fieldBoosts := map[string]float64{
				indexFieldClaimants:  boostForParties,
				indexFieldDefendants: boostForParties,
				indexFieldCounsel:    boostForNames,
				indexFieldPresident:  boostForNames,
				indexFieldClerk:      boostForNames,
				indexFieldSubject:    boostForSubject,
			}
			for field, boost := range fieldBoosts {
				matchQuery := bleve.NewMatchQuery(remaining)
				matchQuery.SetField(field)
				matchQuery.SetBoost(boost)
				disjunctQuery.AddQuery(matchQuery)
			}

			for _, field := range []string{indexFieldCaseNumber, indexFieldRollNumber} {
				termQuery := bleve.NewTermQuery(remaining)
				termQuery.SetField(field)
				termQuery.SetBoost(boostForCaseNumber)
				disjunctQuery.AddQuery(termQuery)

				prefixQuery := bleve.NewPrefixQuery(remaining)
				prefixQuery.SetField(field)
				prefixQuery.SetBoost(boostForPrefixMatch)
				disjunctQuery.AddQuery(prefixQuery)
			}
		}
		textQuery = disjunctQuery
	}

	if kind == "" {
		return textQuery
	}

	kindQuery := bleve.NewTermQuery(kind)
	kindQuery.SetField(indexFieldKind)
	return bleve.NewConjunctionQuery(textQuery, kindQuery)
}

// parseQuotedQuery splits out "quoted phrases" and returns them trimmed,
// along with the unquoted terms joined by single spaces.
func parseQuotedQuery(queryString string) ([]string, string) {
	var quoted []string
	for _, match := range quotedPhrasePattern.FindAllStringSubmatch(queryString, -1) {
		phrase := strings.Join(strings.Fields(match[1]), " ")
		if phrase != "" {
			quoted = append(quoted, phrase)
		}
	}

	remaining := quotedPhrasePattern.ReplaceAllString(queryString, " ")
	return quoted, strings.Join(strings.Fields(remaining), " ")
}

func (b *BleveDB) DeleteDocuments(documentIDs []string) error {
	batch := b.index.NewBatch()

	for i, docID := range documentIDs {
		batch.Delete(docID)

		if (i+1)%IndexingBatchSize == 0 {
			err := b.index.Batch(batch)
			if err != nil {
				return err
			}
			batch = b.index.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			b.logger.Error("could not delete documents", "err", err.Error())
			return err
		}
	}

	return nil
}

func (b *BleveDB) GetDocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveDB) Close() error {

	if b.index != nil {
		if err := b.index.Close(); err != nil {
			b.logger.Error("could not close search index", "err", err.Error())
			return err
		}
	}
	return nil
}
