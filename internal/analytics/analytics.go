// Package analytics provides a unified interface for pluggable analytics
// backends (local heuristics, remote LLMs, caller-registered custom
// models) and a stateless dispatcher with per-call deadlines.
package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/finfiles/finfiles/pkg/models"
)

// Backend identifiers for the built-in backends.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Common errors returned by analytics backends and the dispatcher.
var (
	ErrBackendNotFound      = errors.New("analytics: backend not found")
	ErrUnsupportedOperation = errors.New("analytics: operation not supported by backend")
	ErrBackendTimeout       = errors.New("analytics: backend deadline exceeded")
	ErrNoDocument           = errors.New("analytics: filing has no document text")
)

// BackendError wraps a backend-specific failure with its origin.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("analytics backend %q: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Request carries one filing and the operation to run over it. Text is
// the extracted document text; backends that need it fail with
// ErrNoDocument when it is empty.
type Request struct {
	Filing    models.Filing
	Text      string
	Operation models.AnalyticsOperation
	Prompt    string // free-form input for the custom operation
}

// Backend is the interface all analytics backends implement. Backends
// are polymorphic over the capability set {summarize, forecast,
// anomaly-detect}; unsupported operations must be rejected explicitly.
type Backend interface {
	// ID returns the backend identifier (e.g., "local", "remote").
	ID() string

	// Supports reports whether the backend implements the operation.
	Supports(op models.AnalyticsOperation) bool

	// Analyze runs one operation over one filing. Implementations must
	// honor ctx cancellation and deadlines.
	Analyze(ctx context.Context, req Request) (*models.AnalyticsResult, error)
}
