package models

import "time"

// AuditAction enumerates the auditable system actions.
type AuditAction string

const (
	ActionFetch           AuditAction = "fetch"
	ActionFilter          AuditAction = "filter"
	ActionExport          AuditAction = "export"
	ActionAnalyticsInvoke AuditAction = "analytics-invoke"
)

// Outcome records whether an audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEntry is one immutable record in the append-only audit trail.
// Seq is assigned by the log's single writer; it is monotonic and gapless.
type AuditEntry struct {
	Seq       int64       `json:"seq"`
	ID        string      `json:"id"`
	ActorRole string      `json:"actor_role"`
	Action    AuditAction `json:"action"`
	Target    string      `json:"target"` // filing id or query description
	Timestamp time.Time   `json:"timestamp"`
	Outcome   Outcome     `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
}
