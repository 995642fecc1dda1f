package client

import (
	"errors"
	"fmt"
)

var (
	ErrIdleTimeout        = errors.New("no data received within idle timeout")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
)

// TransportError is a failure of the HTTP exchange itself: network errors,
// non-2xx statuses, aborts and timeouts. It is always terminal for the
// request that produced it.
type TransportError struct {
	Op         string // e.g. "chat", "settings.get"
	StatusCode int    // 0 when no response was received
	Message    string // error field of the response body, if any
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status, or 0 if none was received.
func (e *TransportError) HTTPStatus() int {
	return e.StatusCode
}

// RemoteError is returned when the backend answered but reported failure
// in the body (success=false).
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Op + ": backend reported failure"
	}
	return e.Op + ": " + e.Message
}
