package searchdb

import "time"

// Document is the metadata of a court decision as indexed for lookup. The
// extracted text is deliberately absent: full-text search is done by the
// normalized search engine.
type Document struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	CaseNumber string    `json:"case_number"`
	RollNumber string    `json:"roll_number"`
	President  string    `json:"president"`
	Clerk      string    `json:"clerk"`
	Claimants  string    `json:"claimants"`
	Defendants string    `json:"defendants"`
	Counsel    string    `json:"counsel"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
}

type Result struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	CaseNumber string  `json:"case_number"`
	President  string  `json:"president"`
	Date       string  `json:"date"`
	Score      float64 `json:"score"`
}

type Response struct {
	Results    []Result `json:"results"`
	Total      uint64   `json:"total"`
	MaxScore   float64  `json:"max_score"`
	SearchTime string   `json:"search_time"`
}
