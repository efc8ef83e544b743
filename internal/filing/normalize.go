// Package filing owns the canonical filing domain: normalization of raw
// upstream descriptors, the declarative filter engine, and the in-memory
// filing store that serves queries and change detection.
package filing

import (
	"fmt"
	"strings"
	"time"

	"github.com/finfiles/finfiles/internal/edgar"
	"github.com/finfiles/finfiles/pkg/models"
)

// ParseError reports a missing or malformed required field in a raw
// filing descriptor. It is permanent for that payload and never retried.
type ParseError struct {
	Field     string
	Accession string
	Detail    string
}

func (e *ParseError) Error() string {
	if e.Accession != "" {
		return fmt.Sprintf("parse filing %s: field %q %s", e.Accession, e.Field, e.Detail)
	}
	return fmt.Sprintf("parse filing: field %q %s", e.Field, e.Detail)
}

// Normalize converts a raw upstream descriptor into a canonical filing
// record. Every required field is validated; absence or malformation
// fails with a *ParseError naming the field, never a silent drop.
func Normalize(raw edgar.RawFiling) (models.Filing, error) {
	acc := strings.TrimSpace(raw.AccessionNumber)
	if acc == "" {
		return models.Filing{}, &ParseError{Field: "accession_number", Detail: "is absent"}
	}

	form := strings.TrimSpace(raw.FormType)
	if form == "" {
		return models.Filing{}, &ParseError{Field: "form_type", Accession: acc, Detail: "is absent"}
	}

	if strings.TrimSpace(raw.FiledDate) == "" {
		return models.Filing{}, &ParseError{Field: "filed_date", Accession: acc, Detail: "is absent"}
	}
	filed, err := time.Parse("2006-01-02", raw.FiledDate)
	if err != nil {
		return models.Filing{}, &ParseError{
			Field: "filed_date", Accession: acc,
			Detail: fmt.Sprintf("is malformed: %q", raw.FiledDate),
		}
	}

	cik := strings.TrimSpace(raw.CIK)
	if cik == "" {
		return models.Filing{}, &ParseError{Field: "cik", Accession: acc, Detail: "is absent"}
	}

	return models.Filing{
		AccessionID: acc,
		CIK:         cik,
		Ticker:      strings.ToUpper(strings.TrimSpace(raw.Ticker)),
		CompanyName: strings.TrimSpace(raw.CompanyName),
		FormType:    models.FormType(form),
		FiledDate:   filed,
		DocumentURL: strings.TrimSpace(raw.DocumentURL),
		RawRef:      acc,
	}, nil
}
