// Package extractapi provides the HTTP client for the remote spreadsheet
// extraction API, with per-request deadlines and network-abort
// classification so the extraction engine can stop cleanly when the API
// becomes unreachable.
package extractapi

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// NetworkAbortError means the API is unreachable at the socket level
// (connection refused, DNS failure, connection reset). The extraction
// engine treats it as a signal to cancel all not-yet-started tasks.
type NetworkAbortError struct {
	Err error
}

func (e *NetworkAbortError) Error() string {
	return fmt.Sprintf("extractapi: network abort: %v", e.Err)
}

func (e *NetworkAbortError) Unwrap() error {
	return e.Err
}

// IsNetworkAbort reports whether err carries a NetworkAbortError.
func IsNetworkAbort(err error) bool {
	var abort *NetworkAbortError
	return errors.As(err, &abort)
}

// HTTPError is a non-2xx response from the extraction API. The engine
// records it as a failed checkpoint and continues.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("extractapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// classifyTransportError separates "API unreachable" conditions from
// timeouts. Timeouts are ordinary per-file failures; unreachability
// cancels the whole queue.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	// Per-request deadline exceeded: the server may be alive but slow.
	if urlErr.Timeout() {
		return fmt.Errorf("extractapi: request timeout: %w", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &NetworkAbortError{Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &NetworkAbortError{Err: err}
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &NetworkAbortError{Err: err}
	}

	return err
}
