package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/api-orchestrator/pkg/breaker"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrBudgetExhausted is returned when the shared error budget blocks a
	// request before it reaches transport.
	ErrBudgetExhausted = errors.New("error budget exhausted")
)

// ErrorClass represents a classification of request errors. Callers receive
// one of these classes, never a raw transport error.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures: the call never
	// reached or never received a response from the remote side.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents 5xx-equivalent server failures.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents 4xx-equivalent client failures
	// (excluding auth).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents authentication/authorization failures
	// (401/403). Credential refresh is the caller's responsibility.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimit represents requests blocked by the shared error
	// budget before reaching transport.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassCircuitOpen represents calls rejected by an open circuit
	// without ever reaching transport.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassCancelled represents caller cancellation. Distinguished
	// from failure: never retried, never recorded against a circuit.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// APIError is the classified error surfaced to callers.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewStatusError builds an APIError from an HTTP-equivalent status code.
// Transports that observe status codes use this to hand the orchestrator a
// classifiable error.
func NewStatusError(statusCode int, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Class:      classifyStatus(statusCode),
		Message:    message,
	}
}

// classifyStatus maps a status code onto the error taxonomy.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorClassAuth
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}

// Classify categorizes any error from the request path.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}

	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		return ErrorClassCircuitOpen
	case errors.Is(err, ErrBudgetExhausted):
		return ErrorClassRateLimit
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrContextCancelled):
		return ErrorClassCancelled
	default:
		return ErrorClassNetwork
	}
}

// shouldRetry determines if an error should be retried based on its
// classification.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork:
		// Transport failures should be retried
		return true
	case ErrorClassServer:
		// 5xx server failures should be retried
		return true
	case ErrorClassClient, ErrorClassAuth:
		// 4xx failures propagate immediately
		return false
	case ErrorClassCircuitOpen:
		// The call was never attempted; retrying would only hammer the
		// breaker
		return false
	case ErrorClassCancelled, ErrorClassRateLimit:
		return false
	default:
		return false
	}
}
