// Package llmerrors sorts model-service failures into the few kinds the coach
// acts on: retry, trip the circuit, or tell the student to try again.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrorType is the kind of failure.
type ErrorType int8

const (
	ErrorTypeRateLimit     ErrorType = iota // 429, quota, overloaded
	ErrorTypeTransient                      // 5xx, dropped connection, timeout
	ErrorTypeEmptyResponse                  // 200 with no text
	ErrorTypeAuth                           // 401/403, missing or bad key
	ErrorTypeBadPrompt                      // the provider rejected the request itself
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable means retries ran out or the circuit is open.
	ErrorTypeServiceUnavailable
)

//nolint:gochecknoglobals // lookup table
var typeNames = [...]string{
	ErrorTypeRateLimit:          "rate_limit",
	ErrorTypeTransient:          "transient",
	ErrorTypeEmptyResponse:      "empty_response",
	ErrorTypeAuth:               "auth",
	ErrorTypeBadPrompt:          "bad_prompt",
	ErrorTypeUnknown:            "unknown",
	ErrorTypeServiceUnavailable: "service_unavailable",
}

func (et ErrorType) String() string {
	if et < 0 || int(et) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[et]
}

// Error is a classified failure.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int // 0 when no HTTP status was seen
}

func (e *Error) Error() string {
	detail := e.Message
	switch {
	case detail != "":
	case e.Err != nil:
		detail = e.Err.Error()
	default:
		detail = "status " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("LLM error (%s): %s", e.Type, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable is false only for failures another attempt cannot fix.
func (e *Error) IsRetryable() bool {
	return e.Type != ErrorTypeAuth && e.Type != ErrorTypeBadPrompt && e.Type != ErrorTypeServiceUnavailable
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError wraps the last failure once retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return NewErrorWithCause(ErrorTypeServiceUnavailable, cause,
		fmt.Sprintf("service unavailable after %d retry attempts", attempts))
}

// TypeOf returns the type of the first *Error in err's chain, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	if e, ok := asError(err); ok {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries a classified error of errorType.
func Is(err error, errorType ErrorType) bool {
	e, ok := asError(err)
	return ok && e.Type == errorType
}

func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ClassifyStatus maps a provider HTTP status. ok is false when the status says
// nothing specific.
func ClassifyStatus(statusCode int) (t ErrorType, ok bool) {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth, true
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit, true
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return ErrorTypeBadPrompt, true
	}
	if statusCode >= 500 && statusCode <= 599 {
		return ErrorTypeTransient, true
	}
	return ErrorTypeUnknown, false
}

// messageHints classify SDK errors that carry no usable status. Checked in order.
//
//nolint:gochecknoglobals // lookup table
var messageHints = []struct {
	t       ErrorType
	label   string
	needles []string
}{
	{ErrorTypeTransient, "network or connection error", []string{"timeout", "connection", "network", "temporary", "eof", "reset"}},
	{ErrorTypeRateLimit, "rate limiting detected", []string{"rate", "quota", "limit", "overloaded"}},
	{ErrorTypeAuth, "authentication error", []string{"auth", "api key", "unauthorized", "permission"}},
	{ErrorTypeBadPrompt, "prompt or request error", []string{"invalid", "malformed", "too large", "token"}},
}

// Classify turns a raw provider error into an *Error. Adapters call it after
// checking their SDK's typed errors. statusCode is 0 when unknown. An error that
// is already classified is returned as is.
func Classify(err error, statusCode int) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	case errors.Is(err, context.Canceled):
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	if statusCode == 0 {
		statusCode = ExtractStatusCode(err.Error())
	}
	if t, ok := ClassifyStatus(statusCode); ok {
		return &Error{Type: t, Err: err, StatusCode: statusCode, Message: fmt.Sprintf("provider returned status %d", statusCode)}
	}

	text := strings.ToLower(err.Error())
	for _, hint := range messageHints {
		for _, needle := range hint.needles {
			if strings.Contains(text, needle) {
				return NewErrorWithCause(hint.t, err, hint.label)
			}
		}
	}
	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

// ExtractStatusCode finds a three-digit HTTP status after a known marker in an
// SDK error message. It returns 0 when there is none.
func ExtractStatusCode(msg string) int {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"status code: ", "status: ", "http ", "code "} {
		_, after, found := strings.Cut(lower, marker)
		if !found || len(after) < 3 {
			continue
		}
		if code, err := strconv.Atoi(after[:3]); err == nil && code >= 100 && code <= 599 {
			return code
		}
	}
	return 0
}

// SanitizePrompt shortens a prompt for logs, keeping its head and tail and a
// hash of the whole so two log lines can be matched.
func SanitizePrompt(prompt string, maxChars int) string {
	keep := max(maxChars/2, 100)
	if len(prompt) <= maxChars || 2*keep >= len(prompt) {
		return prompt
	}
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s",
		prompt[:keep], len(prompt), hex.EncodeToString(sum[:8]), prompt[len(prompt)-keep:])
}
