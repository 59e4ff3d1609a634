package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyAPIKey      = errors.New("API key cannot be empty")
	ErrEmptyResponse    = errors.New("empty response from API")
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrInvalidImage marks an image the provider cannot send inline.
	ErrInvalidImage = errors.New("invalid image")
)

// ErrorType classifies provider failures. The retry middleware and the
// circuit breaker decide what to do with a failure from its type alone.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	// ErrorTypeContentPolicy is a request the provider refused to answer,
	// such as a safety-blocked image.
	ErrorTypeContentPolicy
	ErrorTypeNetwork
	ErrorTypeTimeout
	// ErrorTypeCanceled is a request abandoned by the caller.
	ErrorTypeCanceled
)

var errorTypeNames = [...]string{
	ErrorTypeUnknown:        "",
	ErrorTypeAuthentication: "authentication",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeBadRequest:     "bad_request",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeServerError:    "server_error",
	ErrorTypeContentPolicy:  "content_policy",
	ErrorTypeNetwork:        "network",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeCanceled:       "canceled",
}

// String returns the label used in error messages and metrics; unknown
// types have an empty label.
func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return ""
	}
	return errorTypeNames[t]
}

// Retryable reports whether a failure of this type is worth another attempt
// within the same item.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// ProviderError is a provider failure normalized across SDKs.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + " error"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if label := e.Type.String(); label != "" {
		msg += " [" + label + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether the request may succeed if sent again.
func (e *ProviderError) IsRetryable() bool { return e.Type.Retryable() }

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:       errType,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        wrapped,
	}
}

// ErrorClassifier turns SDK failures of one provider into ProviderErrors.
type ErrorClassifier struct {
	Provider string
}

// ClassifyHTTPError classifies a failure by its HTTP status code.
// Authentication and rate-limit failures get a fixed message so keys and
// quotas never leak into logs.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case statusCode == 401 || statusCode == 403:
		errType = ErrorTypeAuthentication
		message = ec.Provider + " authentication failed"
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		message = ec.Provider + " rate limit exceeded"
	case statusCode == 404:
		errType = ErrorTypeNotFound
	case statusCode == 408:
		errType = ErrorTypeTimeout
	case statusCode >= 500:
		errType = ErrorTypeServerError
	case statusCode >= 400:
		errType = ErrorTypeBadRequest
	default:
		errType = ErrorTypeUnknown
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies a context failure. A deadline is
// retryable; a cancellation is not, since the caller has gone away.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
