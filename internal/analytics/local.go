package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/finfiles/finfiles/pkg/models"
)

// riskPhrases are scanned by the anomaly detector. Their presence in a
// filing body is a strong disclosure signal regardless of form type.
var riskPhrases = []string{
	"going concern",
	"material weakness",
	"restatement",
	"impairment",
	"sec investigation",
	"delisting",
	"covenant violation",
	"substantial doubt",
}

// LocalBackend runs deterministic text analysis with no external
// calls. It is always available and serves as the default backend.
type LocalBackend struct{}

func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

func (b *LocalBackend) ID() string { return BackendLocal }

func (b *LocalBackend) Supports(op models.AnalyticsOperation) bool {
	switch op {
	case models.OpSummarize, models.OpForecast, models.OpAnomalyDetect:
		return true
	}
	return false
}

func (b *LocalBackend) Analyze(ctx context.Context, req Request) (*models.AnalyticsResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrNoDocument
	}

	var payload string
	switch req.Operation {
	case models.OpSummarize:
		payload = summarize(req.Filing, req.Text)
	case models.OpForecast:
		payload = forecast(req.Filing, req.Text)
	case models.OpAnomalyDetect:
		payload = detectAnomalies(req.Filing, req.Text)
	default:
		return nil, ErrUnsupportedOperation
	}
	return &models.AnalyticsResult{Payload: payload}, nil
}

// summarize produces a header line plus the leading sentences of the
// document, bounded so the payload stays readable.
func summarize(f models.Filing, text string) string {
	words := strings.Fields(text)
	lead := leadingSentences(text, 5)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s filed %s (%d words)\n", f.CompanyName, f.FormType, f.FiledDate.Format("2006-01-02"), len(words))
	sb.WriteString(lead)
	return sb.String()
}

// forecast is a naive directional read: it counts forward-looking
// sentiment terms and reports the balance. It makes no claim beyond
// the document's own language.
func forecast(f models.Filing, text string) string {
	lower := strings.ToLower(text)
	positive := countAny(lower, []string{"growth", "increase", "improved", "record", "expansion", "strong"})
	negative := countAny(lower, []string{"decline", "decrease", "loss", "weak", "uncertainty", "adverse"})

	direction := "neutral"
	if positive > negative*2 {
		direction = "positive"
	} else if negative > positive*2 {
		direction = "negative"
	}
	return fmt.Sprintf("outlook=%s positive_terms=%d negative_terms=%d form=%s", direction, positive, negative, f.FormType)
}

// detectAnomalies flags known risk-disclosure phrases and reports each
// with its occurrence count, sorted for stable output.
func detectAnomalies(f models.Filing, text string) string {
	lower := strings.ToLower(text)
	var hits []string
	for _, phrase := range riskPhrases {
		if n := strings.Count(lower, phrase); n > 0 {
			hits = append(hits, fmt.Sprintf("%s(%d)", phrase, n))
		}
	}
	if len(hits) == 0 {
		return fmt.Sprintf("no anomalies detected in %s", f.AccessionID)
	}
	sort.Strings(hits)
	return "flags: " + strings.Join(hits, ", ")
}

func leadingSentences(text string, n int) string {
	var sb strings.Builder
	count := 0
	for i := 0; i < len(text) && count < n; i++ {
		c := text[i]
		sb.WriteByte(c)
		if c == '.' || c == '!' || c == '?' {
			count++
		}
	}
	return strings.TrimSpace(sb.String())
}

func countAny(text string, terms []string) int {
	total := 0
	for _, t := range terms {
		total += strings.Count(text, t)
	}
	return total
}
