// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type errorCheckTestCase struct {
	name string
	err  error
	want bool
}

func runErrorCheckTest(t *testing.T, tests []errorCheckTestCase, checkFunc func(error) bool) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkFunc(tt.err); got != tt.want {
				t.Errorf("checkFunc() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"rate limit error type", &Error{Type: ErrorTypeRateLimit, Message: "slow down"}, true},
		{"message mentions 429", errors.New("places returned status 429"), true},
		{"message mentions too many requests", errors.New("Too Many Requests"), true},
		{"other error type", &Error{Type: ErrorTypeNotFound, Message: "rate limit"}, false},
		{"unrelated message", errors.New("connection refused"), false},
	}, IsRateLimitError)
}

func TestIsQuotaExceededError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"quota error type", &Error{Type: ErrorTypeQuotaExceeded, Message: "denied"}, true},
		{"places status", errors.New("places status OVER_QUERY_LIMIT"), true},
		{"unrelated message", errors.New("ZERO_RESULTS"), false},
	}, IsQuotaExceededError)
}

func TestIsTimeoutError(t *testing.T) {
	runErrorCheckTest(t, []errorCheckTestCase{
		{"timeout error type", &Error{Type: ErrorTypeTimeout, Message: "slow"}, true},
		{"wrapped deadline", fmt.Errorf("fetching: %w", context.DeadlineExceeded), true},
		{"client timeout message", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"network error type", &Error{Type: ErrorTypeNetworkError, Message: "refused"}, false},
	}, IsTimeoutError)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		statusCode int
		wantType   ErrorType
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusForbidden, ErrorTypeQuotaExceeded},
		{http.StatusBadRequest, ErrorTypeInvalidRequest},
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusBadGateway, ErrorTypeNetworkError},
		{http.StatusServiceUnavailable, ErrorTypeNetworkError},
		{http.StatusTeapot, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			got := ClassifyHTTPError(tt.statusCode, "https://maps.app.goo.gl/x")
			if got.Type != tt.wantType {
				t.Errorf("ClassifyHTTPError() type = %v, want %v", got.Type, tt.wantType)
			}
		})
	}
}

func TestClassifyPlacesStatus(t *testing.T) {
	tests := []struct {
		status   string
		wantType ErrorType
	}{
		{"ZERO_RESULTS", ErrorTypeNotFound},
		{"OVER_QUERY_LIMIT", ErrorTypeQuotaExceeded},
		{"REQUEST_DENIED", ErrorTypeInvalidRequest},
		{"INVALID_REQUEST", ErrorTypeInvalidRequest},
		{"UNKNOWN_ERROR", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got := ClassifyPlacesStatus(tt.status, "")
			if got.Type != tt.wantType {
				t.Errorf("ClassifyPlacesStatus() type = %v, want %v", got.Type, tt.wantType)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{Type: ErrorTypeNetworkError, Message: "request failed", Err: cause}

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause")
	}

	if got := err.Error(); got != "request failed: dial tcp: connection refused" {
		t.Errorf("Error() = %q", got)
	}

	if got := ErrorTypeMalformedResponse.String(); got != "malformed_response" {
		t.Errorf("String() = %q", got)
	}
}
