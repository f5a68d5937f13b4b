package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means no HTTP status was obtained.
type NetworkError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport: timed out reaching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("transport: network failure reaching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type HTTPError struct {
	Status int
	URL    string
	Header http.Header
	Body   []byte
}

func (e *HTTPError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("transport: %s returned %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transport: %s returned %d: %s", e.URL, e.Status, body)
}

type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transport: malformed response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProtocolError is well-formed JSON that lacks what the protocol requires.
type ProtocolError struct {
	Reason string
	Code   int
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("protocol: %s (code %d)", e.Reason, e.Code)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// StaleResponseError is a response that arrived for a session that is no longer active.
type StaleResponseError struct {
	Expected string
	Got      string
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("stale response for %q, active session is %q", e.Got, e.Expected)
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func StatusOf(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status, true
	}
	return 0, false
}
