package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies provider failures so callers can branch on typed
// values instead of matching message strings.
type ErrorKind int

const (
	// KindUnknown covers failures that fit no other kind.
	KindUnknown ErrorKind = iota
	// KindThreadNotFound means the referenced thread no longer exists.
	KindThreadNotFound
	// KindThreadBusy means the thread has an active run and rejects new
	// messages.
	KindThreadBusy
	// KindRunFailed means a run reached a terminal state other than
	// completed.
	KindRunFailed
	// KindRunTimeout means a run did not reach a terminal state in time.
	KindRunTimeout
	// KindEmptyResponse means a completed run produced no usable content.
	KindEmptyResponse
	// KindAuth means the API rejected our credentials.
	KindAuth
	// KindRateLimited means the API throttled the request.
	KindRateLimited
	// KindNetwork means the request never produced an API response.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindThreadNotFound:
		return "thread_not_found"
	case KindThreadBusy:
		return "thread_busy"
	case KindRunFailed:
		return "run_failed"
	case KindRunTimeout:
		return "run_timeout"
	case KindEmptyResponse:
		return "empty_response"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by all provider operations.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from any error in the chain.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the assistant flow may retry the turn on a
// fresh thread.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindThreadNotFound, KindThreadBusy:
		return true
	}
	return false
}

// threadBusyMarker is the only fragment of the upstream 400 message that
// identifies an in-flight run. String matching stays confined to this file.
const threadBusyMarker = "Can't add messages to thread"

// classifyAPIError maps an HTTP status and message from the assistants API
// to an error kind.
func classifyAPIError(status int, message string) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindThreadNotFound
	case status == http.StatusBadRequest && strings.Contains(message, threadBusyMarker):
		return KindThreadBusy
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUnknown
	}
}

func apiError(op string, status int, message string) *Error {
	return &Error{
		Kind:    classifyAPIError(status, message),
		Op:      op,
		Status:  status,
		Message: message,
	}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}
