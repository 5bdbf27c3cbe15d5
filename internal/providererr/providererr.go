// Package providererr classifies external-provider failures into the retry
// taxonomy shared by the embedding, rerank, and tagging call sites:
//
//   - transient: rate limit (429), 5xx, request timeout — retried with
//     backoff, eventually degrading to fallback/passthrough
//   - permanent: auth failures (401/403), malformed requests (other 4xx) —
//     never retried, trigger immediate fallback
package providererr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// HTTPError is a non-2xx response from an external provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, body)
}

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	switch {
	case e.StatusCode == 429, e.StatusCode == 408:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable provider failure: a
// transient HTTP status, a deadline/timeout, or a temporary network error.
// Context cancellation is NOT transient; the caller is going away.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsPermanent reports whether err is a provider failure that retrying cannot
// fix (auth, malformed request).
func IsPermanent(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Transient()
	}
	return false
}
