package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/meghashyamc/jurisearch/db"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrTooLarge     = errors.New("attachment too large")
	ErrNoAttachment = errors.New("document has no attachment")
	ErrInvalidKind  = errors.New("invalid document kind")
)

// Input carries the editable metadata of a document. A nil Date on update
// keeps the stored date.
type Input struct {
	Kind             db.Kind
	CaseNumber       string
	RollNumber       string
	Date             *time.Time
	President        string
	AssociateJudges  []string
	Clerk            string
	Claimants        string
	Defendants       string
	ClaimantCounsel  string
	DefendantCounsel string
	Subject          string
	Owner            string
}

type Upload struct {
	Name string
	Data []byte
}

type TooLargeError struct {
	Kind  db.Kind
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("attachment of %d bytes exceeds the %d byte limit for a %s", e.Size, e.Limit, e.Kind)
}

func (e *TooLargeError) Is(target error) bool {
	return target == ErrTooLarge
}

type Page struct {
	Documents []*db.Document `json:"documents"`
	Total     int            `json:"total"`
}
