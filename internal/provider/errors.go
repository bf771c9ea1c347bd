package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnknownProvider means the requested provider id is not registered.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrConnectorUnavailable means the connector exists but has no
	// credential to run with.
	ErrConnectorUnavailable = errors.New("provider: connector unavailable")
	// ErrEmptyResponse means the backend returned no usable content.
	ErrEmptyResponse = errors.New("provider: empty response")
)

// Error is a failure reported by a backend API. StatusCode is the HTTP
// status; Type is the vendor's machine-readable error type where the body
// carried one.
type Error struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (%d %s)", e.Provider, e.Message, e.StatusCode, e.Type)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Provider, e.Message, e.StatusCode)
}

// IsRateLimited reports whether err is a backend 429.
func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsOverloaded reports whether err is a backend 5xx or an explicit
// overload signal.
func IsOverloaded(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 500 || apiErr.Type == "overloaded_error"
}

// IsAuth reports whether err is a credential problem.
func IsAuth(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// retryable reports whether a request that failed with err is worth
// re-sending.
func retryable(err error) bool {
	return IsRateLimited(err) || IsOverloaded(err)
}

// apiError builds an Error from a non-200 response body. All three vendors
// wrap failures in an "error" object; the field names differ slightly, so
// the envelope below is the union.
func apiError(providerID string, statusCode int, body []byte) *Error {
	var envelope struct {
		Error *struct {
			Type    string          `json:"type"`
			Status  string          `json:"status"`
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
		} `json:"error"`
	}

	e := &Error{Provider: providerID, StatusCode: statusCode}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		e.Message = envelope.Error.Message
		e.Type = envelope.Error.Type
		if e.Type == "" {
			e.Type = envelope.Error.Status
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}
