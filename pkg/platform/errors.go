package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Platform error codes that mean "slow down". Kept in one place because
// upstream wording changes; the status code check is the primary signal and
// the message match is only a fallback.
const rateLimitCode = 88

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("platform api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform api error: status=%d message=%s", e.StatusCode, e.Message)
}

// parseAPIError decodes the error body, accepting both the v1.1 errors
// array and the v2 problem shape.
func parseAPIError(statusCode int, body []byte) *APIError {
	var legacy struct {
		Errors []struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &legacy); err == nil && len(legacy.Errors) > 0 {
		return &APIError{
			StatusCode: statusCode,
			Code:       legacy.Errors[0].Code,
			Message:    legacy.Errors[0].Message,
		}
	}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &problem); err == nil && problem.Title != "" {
		msg := problem.Title
		if problem.Detail != "" {
			msg = problem.Title + ": " + problem.Detail
		}
		return &APIError{StatusCode: statusCode, Message: msg}
	}

	return &APIError{StatusCode: statusCode, Message: string(body)}
}

// IsRateLimit reports whether err is a platform rate-limit rejection.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code == rateLimitCode {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}
