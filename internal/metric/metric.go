// Package metric exposes Prometheus instrumentation for the ingestion
// and distribution pipeline.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var factory = promauto.With(registry)

var (
	// FetchesTotal counts per-ticker fetch outcomes ("success", "failure").
	FetchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "finfiles_fetches_total",
		Help: "Per-ticker fetch attempts by outcome.",
	}, []string{"outcome"})

	// FetchRetries counts backoff retries against the upstream source.
	FetchRetries = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_fetch_retries_total",
		Help: "Upstream fetch retries after transient failures.",
	})

	// FilingsAdmitted counts records admitted into the filing store.
	FilingsAdmitted = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_filings_admitted_total",
		Help: "Filings admitted into the store.",
	})

	// FilingsDuplicate counts dedup rejections (expected outcomes).
	FilingsDuplicate = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_filings_duplicate_total",
		Help: "Filings rejected as duplicates.",
	})

	// ParseFailures counts raw payloads rejected by the normalizer.
	ParseFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_parse_failures_total",
		Help: "Raw filings rejected with a parse error.",
	})

	// Deliveries counts records pushed to subscribers.
	Deliveries = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_deliveries_total",
		Help: "Filings delivered to subscriptions.",
	})

	// SubscriberDrops counts subscribers dropped for saturation.
	SubscriberDrops = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_subscriber_drops_total",
		Help: "Subscriptions drained due to saturation.",
	})

	// AnalyticsInvocations counts dispatcher calls by backend and outcome.
	AnalyticsInvocations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "finfiles_analytics_invocations_total",
		Help: "Analytics invocations by backend and outcome.",
	}, []string{"backend", "outcome"})

	// AuditAppends counts audit writes by outcome.
	AuditAppends = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "finfiles_audit_appends_total",
		Help: "Audit log appends by outcome.",
	}, []string{"outcome"})

	// AuditLost counts audit entries abandoned at shutdown.
	AuditLost = factory.NewCounter(prometheus.CounterOpts{
		Name: "finfiles_audit_lost_entries_total",
		Help: "Audit entries lost to the shutdown flush timeout.",
	})
)

// Handler returns the /metrics HTTP handler for the package registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
