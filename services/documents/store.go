package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/logger"
)

// Store keeps document records and their PDF attachments in the key-value
// database, one bucket each, keyed by document id.
type Store struct {
	logger logger.Logger
	kv     kvdb.DB
	// Serializes read-modify-write cycles on records.
	mu sync.Mutex
}

func NewStore(logger logger.Logger, kv kvdb.DB) *Store {
	return &Store{logger: logger, kv: kv}
}

func (s *Store) NextID() (int64, error) {
	id, err := s.kv.NextSequence(kvdb.DocumentsBucket)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate document id: %w", err)
	}
	return int64(id), nil
}

// Put writes the record and, when attachment is non-nil, replaces the stored
// PDF in the same transaction.
func (s *Store) Put(doc *db.Document, attachment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(doc, attachment)
}

func (s *Store) put(doc *db.Document, attachment []byte) error {
	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("failed to marshal document", "id", doc.ID, "err", err.Error())
		return fmt.Errorf("failed to marshal document %d: %w", doc.ID, err)
	}

	entries := []kvdb.Entry{{Bucket: kvdb.DocumentsBucket, Key: doc.Key(), Value: data}}
	if attachment != nil {
		entries = append(entries, kvdb.Entry{Bucket: kvdb.AttachmentsBucket, Key: doc.Key(), Value: attachment})
	}

	if err := s.kv.SetMany(entries); err != nil {
		return fmt.Errorf("failed to save document %d: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) Get(id int64) (*db.Document, error) {
	data, err := s.kv.Get(kvdb.DocumentsBucket, db.DocumentKey(id))
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read document %d: %w", id, err)
	}

	var doc db.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("failed to unmarshal document", "id", id, "err", err.Error())
		return nil, fmt.Errorf("failed to unmarshal document %d: %w", id, err)
	}
	return &doc, nil
}

func (s *Store) Attachment(id int64) ([]byte, error) {
	data, err := s.kv.Get(kvdb.AttachmentsBucket, db.DocumentKey(id))
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNoAttachment, id)
		}
		return nil, fmt.Errorf("failed to read attachment of document %d: %w", id, err)
	}
	return data, nil
}

// Modify applies fn to the stored record and saves it unless fn returns an
// error. ErrSkip from fn leaves the record untouched without failing.
func (s *Store) Modify(id int64, fn func(doc *db.Document) error) error {
	return s.ModifyWithAttachment(id, nil, fn)
}

// ModifyWithAttachment is Modify that also replaces the stored PDF, in the
// same transaction as the record, when attachment is non-nil.
func (s *Store) ModifyWithAttachment(id int64, attachment []byte, fn func(doc *db.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Get(id)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		if errors.Is(err, ErrSkip) {
			return nil
		}
		return err
	}

	return s.put(doc, attachment)
}

// ErrSkip tells Modify to leave the record as it is.
var ErrSkip = errors.New("skip modification")

// SaveText stores the outcome of an extraction on the record.
func (s *Store) SaveText(id int64, text *string, info db.ExtractionInfo) error {
	return s.Modify(id, func(doc *db.Document) error {
		doc.ExtractedText = text
		doc.Extraction = info
		return nil
	})
}

func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Get(id); err != nil {
		return err
	}

	return s.kv.DeleteMany([]kvdb.Entry{
		{Bucket: kvdb.DocumentsBucket, Key: db.DocumentKey(id)},
		{Bucket: kvdb.AttachmentsBucket, Key: db.DocumentKey(id)},
	})
}

// ForEachDocument decodes every stored record of the given kind (all kinds
// when empty) within one read snapshot. Records that fail to decode are
// logged and skipped.
func (s *Store) ForEachDocument(kind db.Kind, fn func(doc *db.Document) error) error {
	return s.kv.ForEach(kvdb.DocumentsBucket, func(key string, value []byte) error {
		var doc db.Document
		if err := json.Unmarshal(value, &doc); err != nil {
			s.logger.Error("skipping undecodable document", "key", key, "err", err.Error())
			return nil
		}
		if kind != "" && doc.Kind != kind {
			return nil
		}
		return fn(&doc)
	})
}

// List returns the documents of a kind, most recent date first.
func (s *Store) List(kind db.Kind) ([]*db.Document, error) {
	var documents []*db.Document
	err := s.ForEachDocument(kind, func(doc *db.Document) error {
		documents = append(documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	sort.SliceStable(documents, func(i, j int) bool {
		a, b := documents[i], documents[j]
		switch {
		case a.Date == nil && b.Date == nil:
			return a.ID > b.ID
		case a.Date == nil:
			return false
		case b.Date == nil:
			return true
		case !a.Date.Equal(*b.Date):
			return a.Date.After(*b.Date)
		default:
			return a.ID > b.ID
		}
	})
	return documents, nil
}
