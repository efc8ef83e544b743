package models

import "time"

// AnalyticsOperation identifies a capability of an analytics backend.
type AnalyticsOperation string

const (
	OpSummarize     AnalyticsOperation = "summarize"
	OpForecast      AnalyticsOperation = "forecast"
	OpAnomalyDetect AnalyticsOperation = "anomaly-detect"
	OpCustom        AnalyticsOperation = "custom"
)

// AnalyticsRequest asks a backend to run one operation over one filing.
type AnalyticsRequest struct {
	AccessionID string             `json:"accession_id"`
	Operation   AnalyticsOperation `json:"operation"`
	Prompt      string             `json:"prompt,omitempty"` // free-form input for "custom"
}

// AnalyticsResult is the normalized response from any analytics backend.
type AnalyticsResult struct {
	BackendID   string             `json:"backend_id"`
	AccessionID string             `json:"accession_id"`
	Operation   AnalyticsOperation `json:"operation"`
	Payload     string             `json:"payload"` // opaque structured text/JSON
	CompletedAt time.Time          `json:"completed_at"`
}
