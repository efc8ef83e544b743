package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finfiles/finfiles/internal/infra"
	"github.com/finfiles/finfiles/internal/metric"
	"github.com/finfiles/finfiles/pkg/models"
)

// Dispatcher routes analytics requests to registered backends. It is
// stateless across calls: each invocation gets its own deadline and no
// failed call is retried. Results for the repeatable operations are
// cached per (backend, accession, operation) so swapping the backend
// naturally invalidates prior results.
type Dispatcher struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	defaultID string

	timeout time.Duration
	cache   *infra.Cache
}

// NewDispatcher creates a dispatcher with the given per-call deadline
// and result cache TTL. The first registered backend becomes the
// default unless SetDefault is called.
func NewDispatcher(timeout, cacheTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		backends: make(map[string]Backend),
		timeout:  timeout,
		cache:    infra.NewCache(cacheTTL),
	}
}

// Register adds a backend. Registering an ID again replaces the
// previous backend and drops its cached results.
func (d *Dispatcher) Register(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := b.ID()
	if _, exists := d.backends[id]; exists {
		d.cache.InvalidatePrefix(id + ":")
	}
	d.backends[id] = b
	if d.defaultID == "" {
		d.defaultID = id
	}
}

// Unregister removes a backend and invalidates its cached results.
// Removing the default backend leaves no default until SetDefault is
// called again.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.backends, id)
	d.cache.InvalidatePrefix(id + ":")
	if d.defaultID == id {
		d.defaultID = ""
	}
}

// SetDefault selects the backend used when Invoke is called with an
// empty backend ID.
func (d *Dispatcher) SetDefault(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.backends[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	d.defaultID = id
	return nil
}

// Backends returns the registered backend IDs in sorted order.
func (d *Dispatcher) Backends() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.backends))
	for id := range d.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke runs one analytics operation against the named backend, or
// the default backend when backendID is empty. The call is bounded by
// the dispatcher's deadline; a deadline overrun surfaces as
// ErrBackendTimeout and the attempt is not retried.
func (d *Dispatcher) Invoke(ctx context.Context, backendID string, req Request) (*models.AnalyticsResult, error) {
	d.mu.RLock()
	if backendID == "" {
		backendID = d.defaultID
	}
	b, ok := d.backends[backendID]
	d.mu.RUnlock()
	if !ok {
		metric.AnalyticsInvocations.WithLabelValues(backendID, "failure").Inc()
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, backendID)
	}
	if !b.Supports(req.Operation) {
		metric.AnalyticsInvocations.WithLabelValues(backendID, "failure").Inc()
		return nil, fmt.Errorf("%w: %s does not support %s", ErrUnsupportedOperation, backendID, req.Operation)
	}

	// Custom prompts are not cacheable; the same accession can carry
	// arbitrarily many distinct prompts.
	key := ""
	if req.Operation != models.OpCustom {
		key = cacheKey(backendID, req.Filing.AccessionID, req.Operation)
		if v, ok := d.cache.Get(key); ok {
			res := v.(models.AnalyticsResult)
			metric.AnalyticsInvocations.WithLabelValues(backendID, "success").Inc()
			return &res, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := b.Analyze(callCtx, req)
	if err != nil {
		metric.AnalyticsInvocations.WithLabelValues(backendID, "failure").Inc()
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", ErrBackendTimeout, backendID, d.timeout)
		}
		return nil, &BackendError{Backend: backendID, Err: err}
	}

	res.BackendID = backendID
	res.AccessionID = req.Filing.AccessionID
	res.Operation = req.Operation
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now().UTC()
	}
	if key != "" {
		d.cache.Set(key, *res)
	}
	metric.AnalyticsInvocations.WithLabelValues(backendID, "success").Inc()
	return res, nil
}

func cacheKey(backendID, accession string, op models.AnalyticsOperation) string {
	return backendID + ":" + accession + ":" + string(op)
}
