// Package models defines the wire-stable record shapes owed to export and
// rendering consumers: filings, analytics results, and audit entries.
package models

import "time"

// FormType is an SEC filing form type.
type FormType string

// Common EDGAR form types. Upstream responses may carry others; they are
// passed through unchanged rather than rejected.
const (
	Form10K    FormType = "10-K"
	Form10Q    FormType = "10-Q"
	Form8K     FormType = "8-K"
	FormS1     FormType = "S-1"
	Form4      FormType = "4"
	Form13FHR  FormType = "13F-HR"
	FormDEF14A FormType = "DEF 14A"
)

// Filing represents a single canonical SEC filing record.
// Immutable once created; AccessionID is the global dedup key.
type Filing struct {
	AccessionID string    `json:"accession_id"`
	CIK         string    `json:"cik"`
	Ticker      string    `json:"ticker,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	FormType    FormType  `json:"form_type"` // "10-K", "10-Q", "8-K", "S-1", etc.
	FiledDate   time.Time `json:"filed_date"`
	DocumentURL string    `json:"document_url,omitempty"`
	RawRef      string    `json:"raw_ref,omitempty"` // reference to the raw upstream payload
}
