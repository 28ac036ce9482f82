package homarr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRemoteUnavailable reports a transport failure or a 5xx answer. Callers may retry.
	ErrRemoteUnavailable = errors.New("homarr: remote unavailable")
	// ErrRemoteProtocol reports a response body that could not be decoded.
	ErrRemoteProtocol = errors.New("homarr: malformed response")
	// ErrRemoteRejected reports a request the dashboard refused. Retrying will not help.
	ErrRemoteRejected = errors.New("homarr: request rejected")
	// ErrAuthRejected reports missing, invalid or revoked credentials.
	ErrAuthRejected = errors.New("homarr: authentication rejected")
	// ErrNotFound reports a board or app that does not exist.
	ErrNotFound = errors.New("homarr: not found")
)

// APIError carries the procedure and HTTP status of a failed call. It wraps
// one of the package sentinels so callers can match with errors.Is.
type APIError struct {
	Procedure  string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Err, e.Procedure, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Err, e.Procedure, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// tRPC error codes that decide the sentinel independently of the HTTP status.
var trpcCodes = map[string]error{
	"NOT_FOUND":             ErrNotFound,
	"UNAUTHORIZED":          ErrAuthRejected,
	"FORBIDDEN":             ErrAuthRejected,
	"INTERNAL_SERVER_ERROR": ErrRemoteUnavailable,
	"TIMEOUT":               ErrRemoteUnavailable,
}

func classifyStatus(status int, trpcCode string) error {
	if sentinel, ok := trpcCodes[trpcCode]; ok {
		return sentinel
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthRejected
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrRemoteUnavailable
	default:
		return ErrRemoteRejected
	}
}
