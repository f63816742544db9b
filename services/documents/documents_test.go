package documents

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/extraction"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	mu     sync.Mutex
	calls  int
	result extraction.Result
	err    error
}

func (e *stubExtractor) Extract(ctx context.Context, pdf []byte) (extraction.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.result, e.err
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubIndex struct {
	mu      sync.Mutex
	indexed map[string]searchdb.Document
}

func newStubIndex() *stubIndex {
	return &stubIndex{indexed: map[string]searchdb.Document{}}
}

func (i *stubIndex) BuildIndex(documents []searchdb.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, doc := range documents {
		i.indexed[doc.ID] = doc
	}
	return nil
}

func (i *stubIndex) DeleteDocuments(documentIDs []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range documentIDs {
		delete(i.indexed, id)
	}
	return nil
}

func (i *stubIndex) Search(query string, kind string, limit int, offset int) (*searchdb.Response, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	response := &searchdb.Response{Results: []searchdb.Result{}}
	for id, doc := range i.indexed {
		if kind != "" && doc.Kind != kind {
			continue
		}
		if strings.Contains(doc.CaseNumber, query) || strings.Contains(doc.Claimants, query) {
			response.Results = append(response.Results, searchdb.Result{ID: id, Kind: doc.Kind, CaseNumber: doc.CaseNumber})
		}
	}
	response.Total = uint64(len(response.Results))
	return response, nil
}

func newTestKV(t *testing.T, assert *require.Assertions) kvdb.DB {
	t.Setenv("ENV", "test")
	t.Setenv("KVDB_PATH", filepath.Join(t.TempDir(), "documents.db"))

	cfg, err := config.Load()
	assert.NoError(err, "could not load config")

	kv, err := kvdb.New(logger.New("debug"), cfg)
	assert.NoError(err, "could not open kv database")
	t.Cleanup(func() { kv.Close() })
	return kv
}

func newTestService(t *testing.T, assert *require.Assertions, extractor Extractor, opts Options) (*Service, *stubIndex) {
	kv := newTestKV(t, assert)
	index := newStubIndex()
	if opts.MaxJudgmentBytes == 0 {
		opts.MaxJudgmentBytes = 2048
	}
	if opts.MaxOrderBytes == 0 {
		opts.MaxOrderBytes = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, logger.New("debug"), kv, extractor, index, opts), index
}

func date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func judgmentInput(caseNumber string, when *time.Time) Input {
	return Input{
		Kind:       db.KindJudgment,
		CaseNumber: caseNumber,
		Date:       when,
		President:  "Aya Koné",
		Claimants:  "Banque Atlantique",
		Defendants: "SARL Dupont",
	}
}

func TestCreateExtractsText(t *testing.T) {
	assert := require.New(t)
	extractor := &stubExtractor{result: extraction.Result{Text: "attendu que la société", Source: extraction.SourceDirect}}
	service, index := newTestService(t, assert, extractor, Options{})

	doc, err := service.Create(context.Background(), judgmentInput("J-001", date(2024, 3, 1)), &Upload{Name: "j.pdf", Data: []byte("%PDF-1.4")})
	assert.NoError(err)
	assert.Equal(1, extractor.callCount())
	assert.NotNil(doc.ExtractedText)
	assert.Equal("attendu que la société", *doc.ExtractedText)
	assert.Equal(db.ExtractionDone, doc.Extraction.Status)
	assert.Equal("direct", doc.Extraction.Source)

	stored, err := service.Get(doc.ID)
	assert.NoError(err)
	assert.Equal(*doc.ExtractedText, *stored.ExtractedText)
	assert.Equal("j.pdf", stored.Attachment.Name)
	assert.Equal(int64(8), stored.Attachment.Size)

	_, data, err := service.Attachment(doc.ID)
	assert.NoError(err)
	assert.Equal([]byte("%PDF-1.4"), data)

	assert.Contains(index.indexed, doc.Key())
}

func TestCreateWithoutAttachment(t *testing.T) {
	assert := require.New(t)
	extractor := &stubExtractor{}
	service, _ := newTestService(t, assert, extractor, Options{})

	doc, err := service.Create(context.Background(), judgmentInput("J-002", nil), nil)
	assert.NoError(err)
	assert.Zero(extractor.callCount())
	assert.Nil(doc.ExtractedText)
	assert.Equal(db.ExtractionNone, doc.Extraction.Status)

	_, _, err = service.Attachment(doc.ID)
	assert.True(errors.Is(err, ErrNoAttachment))

	_, err = service.Reextract(context.Background(), doc.ID)
	assert.True(errors.Is(err, ErrNoAttachment))
}

func TestCreateRejectsInvalidKindAndOversizedAttachment(t *testing.T) {
	assert := require.New(t)
	service, _ := newTestService(t, assert, &stubExtractor{}, Options{})

	_, err := service.Create(context.Background(), Input{Kind: "appeal"}, nil)
	assert.True(errors.Is(err, ErrInvalidKind))

	order := Input{Kind: db.KindOrder, CaseNumber: "O-001"}
	_, err = service.Create(context.Background(), order, &Upload{Name: "o.pdf", Data: make([]byte, 1025)})
	var tooLarge *TooLargeError
	assert.True(errors.As(err, &tooLarge))
	assert.Equal(int64(1024), tooLarge.Limit)
	assert.True(errors.Is(err, ErrTooLarge))

	// The same size is within the judgment cap.
	_, err = service.Create(context.Background(), judgmentInput("J-003", nil), &Upload{Name: "j.pdf", Data: make([]byte, 1025)})
	assert.NoError(err)
}

var failurePolicyTestCases = []struct {
	name         string
	policy       string
	expectReject bool
}{
	{name: "placeholder policy", policy: config.FailurePolicyPlaceholder},
	{name: "empty policy", policy: config.FailurePolicyEmpty},
	{name: "reject policy", policy: config.FailurePolicyReject, expectReject: true},
}

func TestFailurePolicy(t *testing.T) {
	extractErr := &extraction.ExtractionError{Cause: errors.New("tesseract crashed")}

	for _, testCase := range failurePolicyTestCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			service, _ := newTestService(t, assert, &stubExtractor{err: extractErr}, Options{FailurePolicy: testCase.policy})

			doc, err := service.Create(context.Background(), judgmentInput("J-010", nil), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
			if testCase.expectReject {
				assert.Error(err)
				assert.True(IsRejected(err))
				page, err := service.List(db.KindJudgment, 10, 0)
				assert.NoError(err)
				assert.Zero(page.Total, "a rejected document must not be saved")
				return
			}

			assert.NoError(err)
			assert.Equal(db.ExtractionFailed, doc.Extraction.Status)
			assert.Contains(doc.Extraction.Error, "tesseract crashed")
			switch testCase.policy {
			case config.FailurePolicyPlaceholder:
				assert.NotNil(doc.ExtractedText)
				assert.True(strings.HasPrefix(*doc.ExtractedText, extraction.FailurePlaceholderMarker))
			case config.FailurePolicyEmpty:
				assert.Nil(doc.ExtractedText)
			}
		})
	}
}

func TestUpdateKeepsDateAndText(t *testing.T) {
	assert := require.New(t)
	extractor := &stubExtractor{result: extraction.Result{Text: "premier texte", Source: extraction.SourceOCR}}
	service, index := newTestService(t, assert, extractor, Options{})

	doc, err := service.Create(context.Background(), judgmentInput("J-020", date(2024, 1, 15)), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
	assert.NoError(err)

	input := judgmentInput("J-020-bis", nil)
	updated, err := service.Update(context.Background(), doc.ID, input, nil)
	assert.NoError(err)
	assert.Equal("J-020-bis", updated.CaseNumber)
	assert.True(updated.Date.Equal(*date(2024, 1, 15)), "empty date keeps the stored one")
	assert.Equal("premier texte", *updated.ExtractedText)
	assert.Equal(1, extractor.callCount(), "no new attachment means no extraction")
	assert.Equal("J-020-bis", index.indexed[doc.Key()].CaseNumber)

	extractor.result = extraction.Result{Text: "second texte", Source: extraction.SourceDirect}
	updated, err = service.Update(context.Background(), doc.ID, judgmentInput("J-020-bis", date(2024, 2, 1)), &Upload{Name: "k.pdf", Data: []byte("%PDF-2")})
	assert.NoError(err)
	assert.Equal("second texte", *updated.ExtractedText)
	assert.Equal("k.pdf", updated.Attachment.Name)
	assert.True(updated.Date.Equal(*date(2024, 2, 1)))

	_, err = service.Update(context.Background(), 999, input, nil)
	assert.True(errors.Is(err, ErrNotFound))
}

func TestListPaginatesByDate(t *testing.T) {
	assert := require.New(t)
	service, _ := newTestService(t, assert, &stubExtractor{}, Options{})

	dates := []*time.Time{date(2023, 5, 1), nil, date(2024, 6, 1), date(2022, 1, 1)}
	for i, when := range dates {
		_, err := service.Create(context.Background(), judgmentInput("J-"+string(rune('A'+i)), when), nil)
		assert.NoError(err)
	}
	_, err := service.Create(context.Background(), Input{Kind: db.KindOrder, CaseNumber: "O-1"}, nil)
	assert.NoError(err)

	page, err := service.List(db.KindJudgment, 2, 0)
	assert.NoError(err)
	assert.Equal(4, page.Total)
	assert.Len(page.Documents, 2)
	assert.Equal("J-C", page.Documents[0].CaseNumber)
	assert.Equal("J-A", page.Documents[1].CaseNumber)

	page, err = service.List(db.KindJudgment, 2, 2)
	assert.NoError(err)
	assert.Equal("J-D", page.Documents[0].CaseNumber)
	assert.Equal("J-B", page.Documents[1].CaseNumber, "undated documents come last")

	page, err = service.List(db.KindJudgment, 2, 10)
	assert.NoError(err)
	assert.Empty(page.Documents)
}

func TestDeleteRemovesRecordAndIndexEntry(t *testing.T) {
	assert := require.New(t)
	service, index := newTestService(t, assert, &stubExtractor{}, Options{})

	doc, err := service.Create(context.Background(), judgmentInput("J-030", nil), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
	assert.NoError(err)
	assert.NoError(service.Delete(doc.ID))

	_, err = service.Get(doc.ID)
	assert.True(errors.Is(err, ErrNotFound))
	assert.NotContains(index.indexed, doc.Key())

	assert.True(errors.Is(service.Delete(doc.ID), ErrNotFound))
}

func TestReextractAndLookupAndReindex(t *testing.T) {
	assert := require.New(t)
	extractor := &stubExtractor{result: extraction.Result{Text: "ancien", Source: extraction.SourceDirect}}
	service, index := newTestService(t, assert, extractor, Options{})

	doc, err := service.Create(context.Background(), judgmentInput("J-040", nil), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
	assert.NoError(err)

	extractor.result = extraction.Result{Text: "nouveau", Source: extraction.SourceOCR, PageErrors: []int{2}}
	updated, err := service.Reextract(context.Background(), doc.ID)
	assert.NoError(err)
	assert.Equal("nouveau", *updated.ExtractedText)
	assert.Equal([]int{2}, updated.Extraction.PageErrors)

	response, err := service.Lookup("J-040", db.KindJudgment, 10, 0)
	assert.NoError(err)
	assert.Equal(uint64(1), response.Total)

	index.indexed = map[string]searchdb.Document{}
	count, err := service.Reindex()
	assert.NoError(err)
	assert.Equal(1, count)
	assert.Contains(index.indexed, doc.Key())
}

func TestAsyncExtraction(t *testing.T) {
	assert := require.New(t)
	extractor := &stubExtractor{err: &extraction.TimeoutError{Budget: extraction.BudgetPages, Limit: "20"}}
	service, _ := newTestService(t, assert, extractor, Options{Async: true, QueueWorkers: 1, FailurePolicy: config.FailurePolicyReject})

	doc, err := service.Create(context.Background(), judgmentInput("J-050", nil), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
	assert.NoError(err, "reject cannot apply once the save has been accepted")
	assert.Equal(db.ExtractionPending, doc.Extraction.Status)
	assert.NotEmpty(doc.Extraction.RequestID)

	assert.Eventually(func() bool {
		info, err := service.ExtractionStatus(doc.ID)
		return err == nil && info.Status == db.ExtractionFailed
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := service.Get(doc.ID)
	assert.NoError(err)
	assert.Nil(stored.ExtractedText, "async reject degrades to storing no text")
	assert.Equal(doc.Extraction.RequestID, stored.Extraction.RequestID)

	assert.Eventually(func() bool {
		pending := 0
		err := service.kv.ForEach(kvdb.JobsBucket, func(string, []byte) error {
			pending++
			return nil
		})
		return err == nil && pending == 0
	}, 5*time.Second, 10*time.Millisecond, "finished jobs are removed")

	extractor.mu.Lock()
	extractor.err = nil
	extractor.result = extraction.Result{Text: "texte", Source: extraction.SourceDirect}
	extractor.mu.Unlock()

	pending, err := service.Reextract(context.Background(), doc.ID)
	assert.NoError(err)
	assert.Equal(db.ExtractionPending, pending.Extraction.Status)
	assert.NotEqual(doc.Extraction.RequestID, pending.Extraction.RequestID)

	assert.Eventually(func() bool {
		stored, err := service.Get(doc.ID)
		return err == nil && stored.Extraction.Status == db.ExtractionDone && stored.ExtractedText != nil && *stored.ExtractedText == "texte"
	}, 5*time.Second, 10*time.Millisecond)
}

type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
	result  extraction.Result
}

func (e *blockingExtractor) Extract(ctx context.Context, pdf []byte) (extraction.Result, error) {
	e.started <- struct{}{}
	select {
	case <-e.release:
		return e.result, nil
	case <-ctx.Done():
		return extraction.Result{}, ctx.Err()
	}
}

// hookedKV runs afterRead once, right after the next document read returns
// its data.
type hookedKV struct {
	kvdb.DB
	mu        sync.Mutex
	afterRead func()
}

func (h *hookedKV) Get(bucket string, key string) ([]byte, error) {
	value, err := h.DB.Get(bucket, key)
	if bucket != kvdb.DocumentsBucket {
		return value, err
	}

	h.mu.Lock()
	hook := h.afterRead
	h.afterRead = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return value, err
}

func (h *hookedKV) setAfterRead(hook func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterRead = hook
}

func TestUpdateKeepsConcurrentExtractionResult(t *testing.T) {
	assert := require.New(t)

	kv := &hookedKV{DB: newTestKV(t, assert)}
	extractor := &blockingExtractor{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  extraction.Result{Text: "texte extrait", Source: extraction.SourceOCR},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service := New(ctx, logger.New("debug"), kv, extractor, newStubIndex(), Options{
		MaxJudgmentBytes: 2048,
		MaxOrderBytes:    1024,
		Async:            true,
		QueueWorkers:     1,
	})

	doc, err := service.Create(context.Background(), judgmentInput("J-060", date(2024, time.June, 3)), &Upload{Name: "j.pdf", Data: []byte("%PDF")})
	assert.NoError(err)

	select {
	case <-extractor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction job was never picked up")
	}

	// The worker finishes between the update's first read and its write.
	kv.setAfterRead(func() {
		close(extractor.release)
		assert.Eventually(func() bool {
			pending := 0
			err := kv.ForEach(kvdb.JobsBucket, func(string, []byte) error {
				pending++
				return nil
			})
			return err == nil && pending == 0
		}, 5*time.Second, 10*time.Millisecond)
	})

	updated, err := service.Update(context.Background(), doc.ID, judgmentInput("J-060-bis", nil), nil)
	assert.NoError(err)
	assert.Equal("J-060-bis", updated.CaseNumber)

	stored, err := service.Get(doc.ID)
	assert.NoError(err)
	assert.Equal("J-060-bis", stored.CaseNumber)
	assert.True(stored.Date.Equal(*date(2024, time.June, 3)), "empty date keeps the stored one")
	assert.Equal(db.ExtractionDone, stored.Extraction.Status)
	assert.NotNil(stored.ExtractedText)
	assert.Equal("texte extrait", *stored.ExtractedText)
}
