// Package fetcher polls the upstream filings source per ticker on an
// interval, bounded by a shared in-flight budget, and feeds raw filings
// through normalization into the hub.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finfiles/finfiles/internal/edgar"
	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/internal/hub"
	"github.com/finfiles/finfiles/internal/infra"
	"github.com/finfiles/finfiles/internal/metric"
	"github.com/finfiles/finfiles/pkg/models"
)

// AuditSink records audited actions. Append must complete before the
// action it records is considered finished.
type AuditSink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// Config holds polling and retry settings.
type Config struct {
	Tickers     []string
	Interval    time.Duration
	MaxInFlight int
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxAttempts int
}

// FailureEvent reports a ticker whose fetch exhausted its retries.
type FailureEvent struct {
	Ticker   string
	Attempts int
	Err      error
	At       time.Time
}

// Result summarizes one ticker's fetch.
type Result struct {
	Ticker        string `json:"ticker"`
	Admitted      int    `json:"admitted"`
	Duplicates    int    `json:"duplicates"`
	ParseFailures int    `json:"parse_failures"`
	Err           error  `json:"-"`
	Error         string `json:"error,omitempty"`
}

// Poller issues bounded-concurrency fetches against the upstream source.
type Poller struct {
	client   *edgar.Client
	hub      *hub.Hub
	audit    AuditSink
	limiter  *infra.InflightLimiter
	cfg      Config
	failures chan FailureEvent
}

// New creates a poller. audit may not be nil: every fetch is audited.
func New(client *edgar.Client, h *hub.Hub, audit AuditSink, cfg Config) *Poller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = 8 * time.Second
	}
	return &Poller{
		client:   client,
		hub:      h,
		audit:    audit,
		limiter:  infra.NewInflightLimiter(cfg.MaxInFlight),
		cfg:      cfg,
		failures: make(chan FailureEvent, 64),
	}
}

// Failures exposes retry-exhausted tickers. The channel is buffered;
// events are dropped if nobody listens.
func (p *Poller) Failures() <-chan FailureEvent { return p.failures }

// Run polls the configured tickers every interval until ctx is cancelled.
// In-flight fetches are abandoned on cancellation, not awaited.
func (p *Poller) Run(ctx context.Context) {
	if len(p.cfg.Tickers) == 0 {
		log.Printf("fetcher: no tickers configured, poller idle")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// First cycle runs immediately.
	p.FetchOnce(ctx, "system", p.cfg.Tickers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.FetchOnce(ctx, "system", p.cfg.Tickers)
		}
	}
}

// FetchOnce fetches every ticker once, concurrently, bounded by the
// in-flight budget. One ticker's failure never aborts the others; the
// batch result carries per-ticker outcomes. The whole batch is audited
// as one fetch action before results are returned.
func (p *Poller) FetchOnce(ctx context.Context, actorRole string, tickers []string) []Result {
	results := make([]Result, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tickers {
		i, t := i, t
		g.Go(func() error {
			results[i] = p.fetchTicker(gctx, t)
			return nil // per-ticker failures are recorded, never fatal
		})
	}
	_ = g.Wait()

	outcome := models.OutcomeSuccess
	detail := ""
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			outcome = models.OutcomeFailure
			detail = results[i].Error
		}
	}

	// The fetch is not finished system-wide until its audit entry is
	// durably appended; an audit failure fails the whole action.
	entry := models.AuditEntry{
		ActorRole: actorRole,
		Action:    models.ActionFetch,
		Target:    fmt.Sprintf("tickers(%d)", len(tickers)),
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		log.Printf("fetcher: audit append failed: %v", err)
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = fmt.Errorf("audit write failed: %w", err)
				results[i].Error = results[i].Err.Error()
			}
		}
	}
	return results
}

// fetchTicker fetches one ticker with retry and feeds raw filings through
// the normalizer into the hub.
func (p *Poller) fetchTicker(ctx context.Context, ticker string) Result {
	res := Result{Ticker: ticker}

	if err := p.limiter.Acquire(ctx); err != nil {
		res.Err = err
		return res
	}
	defer p.limiter.Release()

	raws, err := p.fetchWithRetry(ctx, ticker)
	if err != nil {
		metric.FetchesTotal.WithLabelValues("failure").Inc()
		res.Err = err
		return res
	}
	metric.FetchesTotal.WithLabelValues("success").Inc()

	for _, raw := range raws {
		rec, err := filing.Normalize(raw)
		if err != nil {
			// Permanent for this payload: surfaced, never retried.
			metric.ParseFailures.Inc()
			log.Printf("fetcher: %s: %v", ticker, err)
			res.ParseFailures++
			continue
		}
		if _, admitted := p.hub.Ingest(rec); admitted {
			res.Admitted++
		} else {
			res.Duplicates++
		}
	}
	return res
}

// fetchWithRetry retries transient upstream failures with exponential
// backoff, capped in delay and attempts. Exhaustion emits a failure
// event for the ticker and surfaces ErrUpstreamUnavailable.
func (p *Poller) fetchWithRetry(ctx context.Context, ticker string) ([]edgar.RawFiling, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metric.FetchRetries.Inc()
			if err := sleepCtx(ctx, backoffDelay(p.cfg.RetryBase, p.cfg.RetryMax, attempt-1)); err != nil {
				return nil, err
			}
		}
		raws, err := p.client.RecentFilings(ctx, ticker)
		if err == nil {
			return raws, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}

	ev := FailureEvent{Ticker: ticker, Attempts: p.cfg.MaxAttempts, Err: lastErr, At: time.Now()}
	select {
	case p.failures <- ev:
	default:
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v",
		ErrUpstreamUnavailable, ticker, p.cfg.MaxAttempts, lastErr)
}
