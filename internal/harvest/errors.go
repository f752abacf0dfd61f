package harvest

import (
	"errors"
	"fmt"
)

// ErrSentinelKey is returned when a metadata entry would be keyed by an unknown DOI.
var ErrSentinelKey = errors.New("metadata key is the unknown-DOI sentinel")

// TransportError reports a request that did not come back with status 200. It aborts the run.
type TransportError struct {
	Method     string
	URL        string
	Payload    string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	target := e.URL + e.Payload
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, target, e.Err)
	}
	return fmt.Sprintf("%s %s: bad status %d: %s", e.Method, target, e.StatusCode, truncate(e.Body, 512))
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KeyNotFoundError reports a cache lookup for a key that was never stored.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %q not found", e.Key)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
