// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors returned by PatternExtractor.Match and the layers.
var (
	ErrEmptyInput     = errors.New("empty input")
	ErrNoMatch        = errors.New("no coordinates found")
	ErrOutOfRange     = errors.New("coordinates out of range")
	ErrUnsupportedURL = errors.New("unsupported URL")
	ErrNoAPIKey       = errors.New("no API key configured")
)

// Error describes a failure talking to an external service.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// ErrorType classifies an Error.
type ErrorType int

const (
	// ErrorTypeUnknown unknown error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit rate limit reached.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded quota exceeded or key rejected.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout the request did not finish in time.
	ErrorTypeTimeout
	// ErrorTypeNotFound nothing found for the request.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest the service rejected the request.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError transport failure or unavailable service.
	ErrorTypeNetworkError
	// ErrorTypeMalformedResponse the response could not be decoded.
	ErrorTypeMalformedResponse
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:           "unknown",
	ErrorTypeRateLimit:         "rate_limit",
	ErrorTypeQuotaExceeded:     "quota_exceeded",
	ErrorTypeTimeout:           "timeout",
	ErrorTypeNotFound:          "not_found",
	ErrorTypeInvalidRequest:    "invalid_request",
	ErrorTypeNetworkError:      "network",
	ErrorTypeMalformedResponse: "malformed_response",
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether err is caused by a rate limit.
func IsRateLimitError(err error) bool {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Type == ErrorTypeRateLimit
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsQuotaExceededError reports whether err is caused by an exhausted quota.
func IsQuotaExceededError(err error) bool {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Type == ErrorTypeQuotaExceeded
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "over_query_limit") ||
		strings.Contains(errStr, "quota exceeded")
}

// IsTimeoutError reports whether err is caused by a timeout.
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Type == ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// ClassifyHTTPError classifies an HTTP status code.
func ClassifyHTTPError(statusCode int, url string) *Error {
	switch statusCode {
	case http.StatusTooManyRequests: // 429
		return &Error{
			Type:    ErrorTypeRateLimit,
			Message: "rate limit reached fetching " + url,
		}
	case http.StatusForbidden: // 403
		return &Error{
			Type:    ErrorTypeQuotaExceeded,
			Message: "access denied fetching " + url,
		}
	case http.StatusBadRequest: // 400
		return &Error{
			Type:    ErrorTypeInvalidRequest,
			Message: "bad request fetching " + url,
		}
	case http.StatusNotFound: // 404
		return &Error{
			Type:    ErrorTypeNotFound,
			Message: "not found: " + url,
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &Error{
			Type:    ErrorTypeNetworkError,
			Message: fmt.Sprintf("service unavailable (status %d) fetching %s", statusCode, url),
		}
	default:
		return &Error{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("HTTP %d fetching %s", statusCode, url),
		}
	}
}

// ClassifyPlacesStatus classifies a non-OK status of the Places API.
func ClassifyPlacesStatus(status, message string) *Error {
	msg := "places status " + status
	if message != "" {
		msg += ": " + message
	}

	switch status {
	case "ZERO_RESULTS", "NOT_FOUND":
		return &Error{Type: ErrorTypeNotFound, Message: msg}
	case "OVER_QUERY_LIMIT":
		return &Error{Type: ErrorTypeQuotaExceeded, Message: msg}
	case "REQUEST_DENIED", "INVALID_REQUEST":
		return &Error{Type: ErrorTypeInvalidRequest, Message: msg}
	default:
		return &Error{Type: ErrorTypeUnknown, Message: msg}
	}
}

// classifyTransportError wraps an error returned by http.Client.Do.
func classifyTransportError(err error) *Error {
	if IsTimeoutError(err) {
		return &Error{Type: ErrorTypeTimeout, Message: "request timed out", Err: err}
	}

	return &Error{Type: ErrorTypeNetworkError, Message: "request failed", Err: err}
}
