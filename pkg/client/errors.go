package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingConfig is returned when required configuration is absent.
var ErrMissingConfig = errors.New("missing configuration")

// ErrorClass represents a classification of call errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (never retried).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents unparseable responses (never retried).
	ErrorClassMalformed ErrorClass = "malformed"
)

// APIError represents a failed API call with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry of the same call can succeed.
// Server errors, rate limiting, and network failures are transient;
// other client errors and malformed responses are not.
func (e *APIError) Transient() bool {
	switch e.Class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// ErrorClass returns the class label for metrics and logging.
func (e *APIError) ErrorClass() string {
	return string(e.Class)
}

// Malformed builds a permanent error for an unparseable response body.
func Malformed(endpoint string, err error) *APIError {
	return &APIError{
		Class:    ErrorClassMalformed,
		Endpoint: endpoint,
		Message:  "malformed response",
		Err:      err,
	}
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
