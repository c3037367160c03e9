// Package errors provides structured errors for upstream HTTP failures.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MinErrorStatusCode is the lowest HTTP status treated as a failure.
const MinErrorStatusCode = 400

// maxErrorBodyBytes bounds how much of an error body is retained.
const maxErrorBodyBytes = 64 * 1024

// HTTPError represents a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	// Message is the error text the upstream put in its payload, if any.
	Message string
	// RetryAfter is parsed from the Retry-After header (zero when absent).
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// errorPayload covers the shapes upstream APIs use for error bodies:
// {"error":"..."}, {"message":"..."}, {"error":{"code":..,"message":..}}
// and JSON:API {"errors":[{"title":..,"detail":..}]}.
type errorPayload struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Errors  []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// ParseHTTPError converts an error response into an *HTTPError. It returns
// nil for status codes below MinErrorStatusCode. The body is consumed.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < MinErrorStatusCode {
		return nil
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		httpErr.Message = fmt.Sprintf("failed to read error response body: %v", err)
		return httpErr
	}
	httpErr.Body = string(bodyBytes)
	httpErr.Message = extractMessage(bodyBytes)
	return httpErr
}

func extractMessage(body []byte) string {
	var payload errorPayload
	if json.Unmarshal(body, &payload) != nil {
		return strings.TrimSpace(string(body))
	}

	if len(payload.Error) > 0 {
		var flat string
		if json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Errors) > 0 {
		details := make([]string, len(payload.Errors))
		for i, e := range payload.Errors {
			if e.Detail != "" {
				details[i] = e.Title + ": " + e.Detail
			} else {
				details[i] = e.Title
			}
		}
		return strings.Join(details, "; ")
	}
	return strings.TrimSpace(string(body))
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// AsHTTPError unwraps err to an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// GetHTTPStatusCode extracts the upstream status code from err, if any.
func GetHTTPStatusCode(err error) (int, bool) {
	if httpErr, ok := AsHTTPError(err); ok {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsStatus reports whether err wraps an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	code, ok := GetHTTPStatusCode(err)
	return ok && code == status
}
