package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HTTPError is a response with a non-2xx status. Body holds the raw JSON
// payload when the server sent one.
type HTTPError struct {
	Status  int
	Body    json.RawMessage
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// TransportError means no HTTP response was obtained (dial failure, timeout,
// cancelled context, unreadable body).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == code
	}
	return false
}

// IsTransport reports whether err (or any wrapped error) is a TransportError.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
