package db

import (
	"strconv"
	"time"
)

type Kind string

const (
	KindJudgment Kind = "judgment"
	KindOrder    Kind = "order"
)

func (k Kind) Valid() bool {
	return k == KindJudgment || k == KindOrder
}

type ExtractionStatus string

const (
	ExtractionNone    ExtractionStatus = "none"
	ExtractionPending ExtractionStatus = "pending"
	ExtractionRunning ExtractionStatus = "running"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Document is a court decision of either kind. ExtractedText is nil until an
// attachment has been processed, or when extraction failed without a
// placeholder being stored.
type Document struct {
	ID               int64          `json:"id"`
	Kind             Kind           `json:"kind"`
	CaseNumber       string         `json:"case_number"`
	RollNumber       string         `json:"roll_number"`
	Date             *time.Time     `json:"date"`
	President        string         `json:"president"`
	AssociateJudges  []string       `json:"associate_judges,omitempty"`
	Clerk            string         `json:"clerk"`
	Claimants        string         `json:"claimants"`
	Defendants       string         `json:"defendants"`
	ClaimantCounsel  string         `json:"claimant_counsel"`
	DefendantCounsel string         `json:"defendant_counsel"`
	Subject          string         `json:"subject"`
	Attachment       *Attachment    `json:"attachment,omitempty"`
	ExtractedText    *string        `json:"extracted_text,omitempty"`
	Extraction       ExtractionInfo `json:"extraction"`
	Owner            string         `json:"owner"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (d *Document) Key() string {
	return DocumentKey(d.ID)
}

func DocumentKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

type Attachment struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type ExtractionInfo struct {
	Status     ExtractionStatus `json:"status"`
	Source     string           `json:"source,omitempty"`
	PageErrors []int            `json:"page_errors,omitempty"`
	Error      string           `json:"error,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
