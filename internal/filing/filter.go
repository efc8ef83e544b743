package filing

import (
	"strings"
	"time"

	"github.com/finfiles/finfiles/pkg/models"
)

// FilterSpec is a declarative filing filter. Matching is conjunctive
// across present fields; absent fields match everything.
type FilterSpec struct {
	FormTypes []models.FormType `json:"form_types,omitempty"`
	From      time.Time         `json:"from,omitempty"`
	To        time.Time         `json:"to,omitempty"`
	CIKs      []string          `json:"ciks,omitempty"`
}

// IsZero reports whether the spec matches everything.
func (s FilterSpec) IsZero() bool {
	return len(s.FormTypes) == 0 && len(s.CIKs) == 0 && s.From.IsZero() && s.To.IsZero()
}

// String renders the spec as a query description for audit targets.
func (s FilterSpec) String() string {
	if s.IsZero() {
		return "filings(all)"
	}
	var parts []string
	if len(s.FormTypes) > 0 {
		forms := make([]string, len(s.FormTypes))
		for i, f := range s.FormTypes {
			forms[i] = string(f)
		}
		parts = append(parts, "forms="+strings.Join(forms, ","))
	}
	if len(s.CIKs) > 0 {
		parts = append(parts, "ciks="+strings.Join(s.CIKs, ","))
	}
	if !s.From.IsZero() {
		parts = append(parts, "from="+s.From.Format("2006-01-02"))
	}
	if !s.To.IsZero() {
		parts = append(parts, "to="+s.To.Format("2006-01-02"))
	}
	return "filings(" + strings.Join(parts, " ") + ")"
}

// Matches reports whether a filing satisfies the spec. It is a pure
// function shared by the store's Query and the hub's live matching, so a
// live-pushed filing always appears in a historical query with the same
// spec.
func Matches(f models.Filing, spec FilterSpec) bool {
	if len(spec.FormTypes) > 0 {
		found := false
		for _, ft := range spec.FormTypes {
			if f.FormType == ft {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(spec.CIKs) > 0 {
		found := false
		for _, cik := range spec.CIKs {
			if f.CIK == cik {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !spec.From.IsZero() && f.FiledDate.Before(spec.From) {
		return false
	}
	if !spec.To.IsZero() && f.FiledDate.After(spec.To) {
		return false
	}
	return true
}
