package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/extraction"
)

// Extractor turns PDF bytes into text.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (extraction.Result, error)
}

// MetadataIndex represents the search database operations needed to keep
// document metadata searchable.
type MetadataIndex interface {
	BuildIndex(documents []searchdb.Document) error
	DeleteDocuments(documentIDs []string) error
	Search(query string, kind string, limit int, offset int) (*searchdb.Response, error)
}

type Options struct {
	MaxJudgmentBytes int64
	MaxOrderBytes    int64
	FailurePolicy    string
	Async            bool
	QueueWorkers     int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxJudgmentBytes: cfg.GetMaxJudgmentBytes(),
		MaxOrderBytes:    cfg.GetMaxOrderBytes(),
		FailurePolicy:    cfg.GetFailurePolicy(),
		Async:            cfg.IsExtractionAsync(),
		QueueWorkers:     cfg.GetQueueWorkers(),
	}
}

type Service struct {
	logger    logger.Logger
	store     *Store
	kv        kvdb.DB
	extractor Extractor
	index     MetadataIndex
	opts      Options
	ctx       context.Context
	jobsC     chan job
}

// New returns the document service. In async mode it starts the extraction
// workers, which stop when ctx is cancelled, and requeues jobs left over
// from a previous run.
func New(ctx context.Context, logger logger.Logger, kv kvdb.DB, extractor Extractor, index MetadataIndex, opts Options) *Service {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = config.FailurePolicyPlaceholder
	}

	s := &Service{
		logger:    logger,
		store:     NewStore(logger, kv),
		kv:        kv,
		extractor: extractor,
		index:     index,
		opts:      opts,
		ctx:       ctx,
	}

	if opts.Async {
		s.jobsC = make(chan job)
		s.startWorkers(ctx, max(1, opts.QueueWorkers))
		s.resumePendingJobs()
	}
	return s
}

// Store exposes the record store, which also serves as the search corpus.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Create(ctx context.Context, input Input, upload *Upload) (*db.Document, error) {
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, input.Kind)
	}
	if err := s.checkSize(input.Kind, upload); err != nil {
		return nil, err
	}

	id, err := s.store.NextID()
	if err != nil {
		s.logger.Error("failed to allocate document id", "err", err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	doc := &db.Document{ID: id, CreatedAt: now}
	applyInput(doc, input)
	doc.Owner = input.Owner
	doc.UpdatedAt = now
	doc.Extraction = db.ExtractionInfo{Status: db.ExtractionNone, UpdatedAt: now}

	var attachment []byte
	var pending *job
	if upload != nil {
		attachment = upload.Data
		doc.Attachment = &db.Attachment{Name: upload.Name, Size: int64(len(upload.Data)), UploadedAt: now}
		if pending, err = s.extractOnSave(ctx, doc, upload.Data); err != nil {
			return nil, err
		}
	}

	if err := s.store.Put(doc, attachment); err != nil {
		s.logger.Error("failed to save document", "id", id, "err", err.Error())
		return nil, err
	}
	s.indexMetadata(doc)

	if pending != nil {
		s.enqueue(*pending)
	}
	return doc, nil
}

// Update replaces the metadata of a document. The stored date is kept when
// input.Date is nil and the text is recomputed only for a new attachment.
// The merge happens on the latest stored record so that a concurrent
// extraction result is not overwritten.
func (s *Service) Update(ctx context.Context, id int64, input Input, upload *Upload) (*db.Document, error) {
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, input.Kind)
	}
	if err := s.checkSize(input.Kind, upload); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}

	var attachment []byte
	var extracted *db.Document
	var pending *job
	if upload != nil {
		attachment = upload.Data
		extracted = &db.Document{ID: id}
		var err error
		if pending, err = s.extractOnSave(ctx, extracted, upload.Data); err != nil {
			return nil, err
		}
	}

	var updated *db.Document
	err := s.store.ModifyWithAttachment(id, attachment, func(doc *db.Document) error {
		previousDate := doc.Date
		applyInput(doc, input)
		if doc.Date == nil {
			doc.Date = previousDate
		}
		if input.Owner != "" {
			doc.Owner = input.Owner
		}
		now := time.Now().UTC()
		doc.UpdatedAt = now

		if upload != nil {
			doc.Attachment = &db.Attachment{Name: upload.Name, Size: int64(len(upload.Data)), UploadedAt: now}
			doc.ExtractedText = extracted.ExtractedText
			doc.Extraction = extracted.Extraction
		}
		updated = doc
		return nil
	})
	if err != nil {
		s.logger.Error("failed to update document", "id", id, "err", err.Error())
		return nil, err
	}
	s.indexMetadata(updated)

	if pending != nil {
		s.enqueue(*pending)
	}
	return updated, nil
}

func (s *Service) Get(id int64) (*db.Document, error) {
	return s.store.Get(id)
}

func (s *Service) Delete(id int64) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	if err := s.index.DeleteDocuments([]string{db.DocumentKey(id)}); err != nil {
		s.logger.Error("failed to remove document from metadata index", "id", id, "err", err.Error())
	}
	return nil
}

// List returns one page of documents of a kind, most recent first.
func (s *Service) List(kind db.Kind, limit int, offset int) (*Page, error) {
	documents, err := s.store.List(kind)
	if err != nil {
		s.logger.Error("failed to list documents", "kind", kind, "err", err.Error())
		return nil, err
	}

	page := &Page{Documents: []*db.Document{}, Total: len(documents)}
	if offset >= len(documents) {
		return page, nil
	}
	end := len(documents)
	if limit > 0 {
		end = min(end, offset+limit)
	}
	page.Documents = documents[offset:end]
	return page, nil
}

func (s *Service) Attachment(id int64) (*db.Attachment, []byte, error) {
	doc, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if doc.Attachment == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrNoAttachment, id)
	}

	data, err := s.store.Attachment(id)
	if err != nil {
		return nil, nil, err
	}
	return doc.Attachment, data, nil
}

// Reextract recomputes the text of a document from its stored attachment.
func (s *Service) Reextract(ctx context.Context, id int64) (*db.Document, error) {
	_, pdf, err := s.Attachment(id)
	if err != nil {
		return nil, err
	}

	if s.opts.Async {
		requestID := uuid.NewString()
		info := db.ExtractionInfo{Status: db.ExtractionPending, RequestID: requestID, UpdatedAt: time.Now().UTC()}
		err := s.store.Modify(id, func(doc *db.Document) error {
			doc.Extraction = info
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.enqueue(job{RequestID: requestID, DocumentID: id})
		return s.store.Get(id)
	}

	result, extractErr := s.extractor.Extract(ctx, pdf)
	outcome := &db.Document{ID: id}
	if err := s.applyExtraction(outcome, result, extractErr, true); err != nil {
		return nil, err
	}
	if err := s.store.SaveText(id, outcome.ExtractedText, outcome.Extraction); err != nil {
		s.logger.Error("failed to store extracted text", "id", id, "err", err.Error())
		return nil, err
	}
	return s.store.Get(id)
}

// Lookup searches document metadata through the index.
func (s *Service) Lookup(query string, kind db.Kind, limit int, offset int) (*searchdb.Response, error) {
	response, err := s.index.Search(query, string(kind), limit, offset)
	if err != nil {
		s.logger.Error("metadata lookup failed", "query", query, "err", err.Error())
		return nil, err
	}
	return response, nil
}

// Reindex rebuilds the metadata index from every stored document.
func (s *Service) Reindex() (int, error) {
	var documents []searchdb.Document
	err := s.store.ForEachDocument("", func(doc *db.Document) error {
		documents = append(documents, toIndexDocument(doc))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read documents: %w", err)
	}

	if err := s.index.BuildIndex(documents); err != nil {
		s.logger.Error("failed to rebuild metadata index", "err", err.Error())
		return 0, fmt.Errorf("failed to rebuild metadata index: %w", err)
	}
	return len(documents), nil
}

// extractOnSave runs extraction for a freshly uploaded attachment, or in
// async mode marks the document pending and returns the job to enqueue once
// the record is saved.
func (s *Service) extractOnSave(ctx context.Context, doc *db.Document, pdf []byte) (*job, error) {
	if s.opts.Async {
		requestID := uuid.NewString()
		doc.ExtractedText = nil
		doc.Extraction = db.ExtractionInfo{Status: db.ExtractionPending, RequestID: requestID, UpdatedAt: time.Now().UTC()}
		return &job{RequestID: requestID, DocumentID: doc.ID}, nil
	}

	result, err := s.extractor.Extract(ctx, pdf)
	return nil, s.applyExtraction(doc, result, err, true)
}

// applyExtraction records an extraction outcome on doc. A failure is handled
// by the configured policy; reject is only honoured when allowReject is set
// and otherwise falls back to storing no text.
func (s *Service) applyExtraction(doc *db.Document, result extraction.Result, extractErr error, allowReject bool) error {
	now := time.Now().UTC()
	if extractErr == nil {
		text := result.Text
		doc.ExtractedText = &text
		doc.Extraction = db.ExtractionInfo{
			Status:     db.ExtractionDone,
			Source:     string(result.Source),
			PageErrors: result.PageErrors,
			RequestID:  doc.Extraction.RequestID,
			UpdatedAt:  now,
		}
		return nil
	}

	s.logger.Error("text extraction failed", "id", doc.ID, "policy", s.opts.FailurePolicy, "err", extractErr.Error())
	doc.Extraction = db.ExtractionInfo{
		Status:    db.ExtractionFailed,
		Error:     extractErr.Error(),
		RequestID: doc.Extraction.RequestID,
		UpdatedAt: now,
	}

	switch s.opts.FailurePolicy {
	case config.FailurePolicyReject:
		if allowReject {
			return fmt.Errorf("document rejected: %w", extractErr)
		}
		doc.ExtractedText = nil
	case config.FailurePolicyEmpty:
		doc.ExtractedText = nil
	default:
		placeholder := extraction.FailurePlaceholder(extractErr)
		doc.ExtractedText = &placeholder
	}
	return nil
}

// UploadLimit returns the largest attachment accepted for a kind, in bytes.
// Zero means no limit.
func (s *Service) UploadLimit(kind db.Kind) int64 {
	if kind == db.KindOrder {
		return s.opts.MaxOrderBytes
	}
	return s.opts.MaxJudgmentBytes
}

func (s *Service) checkSize(kind db.Kind, upload *Upload) error {
	if upload == nil {
		return nil
	}

	limit := s.UploadLimit(kind)
	size := int64(len(upload.Data))
	if limit > 0 && size > limit {
		return &TooLargeError{Kind: kind, Size: size, Limit: limit}
	}
	return nil
}

func (s *Service) indexMetadata(doc *db.Document) {
	if err := s.index.BuildIndex([]searchdb.Document{toIndexDocument(doc)}); err != nil {
		s.logger.Error("failed to index document metadata", "id", doc.ID, "err", err.Error())
	}
}

func applyInput(doc *db.Document, input Input) {
	doc.Kind = input.Kind
	doc.CaseNumber = input.CaseNumber
	doc.RollNumber = input.RollNumber
	doc.Date = input.Date
	doc.President = input.President
	doc.AssociateJudges = input.AssociateJudges
	doc.Clerk = input.Clerk
	doc.Claimants = input.Claimants
	doc.Defendants = input.Defendants
	doc.ClaimantCounsel = input.ClaimantCounsel
	doc.DefendantCounsel = input.DefendantCounsel
	doc.Subject = input.Subject
}

func toIndexDocument(doc *db.Document) searchdb.Document {
	indexed := searchdb.Document{
		ID:         doc.Key(),
		Kind:       string(doc.Kind),
		CaseNumber: doc.CaseNumber,
		RollNumber: doc.RollNumber,
		President:  doc.President,
		Clerk:      doc.Clerk,
		Claimants:  doc.Claimants,
		Defendants: doc.Defendants,
		Counsel:    joinNonEmpty(doc.ClaimantCounsel, doc.DefendantCounsel),
		Subject:    doc.Subject,
	}
	if doc.Date != nil {
		indexed.Date = *doc.Date
	}
	return indexed
}

func joinNonEmpty(values ...string) string {
	var joined string
	for _, value := range values {
		if value == "" {
			continue
		}
		if joined != "" {
			joined += " "
		}
		joined += value
	}
	return joined
}

// IsRejected reports whether err comes from an extraction failure that
// stopped a save.
func IsRejected(err error) bool {
	return errors.Is(err, extraction.ErrExtraction) || errors.Is(err, extraction.ErrExtractionTimeout)
}
