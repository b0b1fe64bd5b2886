package talk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed server call.
type ErrorKind int

const (
	// ErrorTransport means no HTTP response was received at all (network,
	// DNS, TLS, timeout).
	ErrorTransport ErrorKind = iota
	// ErrorAuthentication means the server rejected the credentials (401/403).
	ErrorAuthentication
	// ErrorServerRejected means the server answered with any other
	// non-success status.
	ErrorServerRejected
	// ErrorProtocol means the HTTP call succeeded but the response is missing
	// a required field, e.g. a creation response without a room token.
	ErrorProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport error"
	case ErrorAuthentication:
		return "authentication rejected"
	case ErrorServerRejected:
		return "server rejected request"
	case ErrorProtocol:
		return "protocol violation"
	}
	return "unknown error"
}

// ServiceError is the error type returned by every Client operation.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int    // zero when no response was received
	Message    string // parsed server message, when present
	Body       string // trimmed raw body for diagnostics
	cause      error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Kind == ErrorTransport && e.cause != nil:
		return fmt.Sprintf("talk: %v", e.cause)
	case e.Message != "":
		return fmt.Sprintf("talk: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("talk: %s (HTTP %d)", e.Kind, e.StatusCode)
	}
	return "talk: " + e.Kind.String()
}

func (e *ServiceError) Unwrap() error { return e.cause }

// IsAuthentication reports whether the failure was a credential rejection, so
// callers can route the user to connection settings instead of showing a
// generic error.
func (e *ServiceError) IsAuthentication() bool { return e.Kind == ErrorAuthentication }

// IsAuthenticationError reports whether err wraps a credential rejection.
func IsAuthenticationError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.IsAuthentication()
}

func transportError(err error) *ServiceError {
	return &ServiceError{Kind: ErrorTransport, cause: err}
}

func classifyStatus(status int) ErrorKind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrorAuthentication
	}
	return ErrorServerRejected
}
