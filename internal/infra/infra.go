// Package infra provides shared infrastructure components used across
// the application: HTTP utilities, caching, and request limiting.
package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// HTTPStatusError is returned by DoGet for non-2xx responses, so callers
// can distinguish rate-limit and server errors from transport failures.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Retryable reports whether the status indicates a transient condition.
func (e *HTTPStatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// DoGet performs a GET request with the given headers and returns the
// response body. The caller must close the body on success.
func DoGet(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, resp.StatusCode, &HTTPStatusError{URL: url, Status: resp.StatusCode}
	}
	return resp.Body, resp.StatusCode, nil
}
