package extraction

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction        = errors.New("text extraction failed")
	ErrExtractionTimeout = errors.New("text extraction budget exceeded")
)

// ExtractionError is returned when neither the text layer nor OCR produced a
// usable result.
type ExtractionError struct {
	Cause       error
	DirectCause error
}

func (e *ExtractionError) Error() string {
	if e.DirectCause != nil {
		return fmt.Sprintf("ocr extraction failed: %s (direct extraction: %s)", e.Cause, e.DirectCause)
	}
	return fmt.Sprintf("ocr extraction failed: %s", e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

const (
	BudgetTime  = "time"
	BudgetPages = "pages"
)

// TimeoutError reports that a document exceeded the time or page budget of a
// single extraction.
type TimeoutError struct {
	Budget string
	Limit  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extraction exceeded %s budget of %s", e.Budget, e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrExtractionTimeout
}
