package services

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey indicates a client was built without credentials.
	ErrMissingAPIKey = errors.New("API key not configured")

	// ErrUpstreamTimeout indicates the remote service did not answer in time.
	ErrUpstreamTimeout = errors.New("remote service timed out")

	// ErrWorkflowFailed indicates the remote run finished without a result.
	ErrWorkflowFailed = errors.New("workflow run failed")

	// ErrOutputMissing indicates the outputs map lacks the requested key.
	ErrOutputMissing = errors.New("output key not found")

	// ErrOutputNotString indicates the requested output is not a string.
	ErrOutputNotString = errors.New("output is not a string")

	// ErrOutputMalformed indicates the requested output is not valid JSON.
	ErrOutputMalformed = errors.New("output is not valid JSON")
)

// APIError is a non-2xx answer from a remote provider.
type APIError struct {
	Provider   string // dify, openai
	StatusCode int
	Code       string // provider error code, e.g. invalid_param
	Message    string
	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s API error: %s: %v", e.Provider, msg, e.Err)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether the provider rejected the API key.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRateLimited reports whether the provider throttled the call.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// OutputError adds the key being looked up to an output lookup failure.
type OutputError struct {
	Key string
	Err error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output %q: %v", e.Key, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
