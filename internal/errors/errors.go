package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Well-known proxy errors. The dispatch layer maps these onto client
// responses; everything else is treated as an internal error.

// Unauthenticated is returned when no valid API key accompanies a request.
func Unauthenticated(message string) *APIError {
	return New(http.StatusUnauthorized, "invalid_api_key", "authentication_error", message)
}

// Forbidden is returned when the key is valid but the account is disabled.
func Forbidden(message string) *APIError {
	return New(http.StatusForbidden, "account_disabled", "permission_error", message)
}

// QuotaExceeded covers both daily-quota and per-minute rate breaches.
func QuotaExceeded(message string) *APIError {
	return New(http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_error", message)
}

// NoCredentialAvailable is returned when the pool has nothing selectable
// under the active sharing policy.
func NoCredentialAvailable(message string) *APIError {
	return New(http.StatusServiceUnavailable, "no_credential_available", "server_error", message)
}

// UpstreamFatal wraps a non-retryable upstream failure.
func UpstreamFatal(message string) *APIError {
	return New(http.StatusInternalServerError, "upstream_error", "server_error", message)
}

// BadRequest is returned for malformed request bodies.
func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, "invalid_request", "invalid_request_error", message)
}

// ToJSON renders the error in the requested wire format.
func (e *APIError) ToJSON(format ErrorFormat) ([]byte, error) {
	switch format {
	case FormatGemini:
		var out GeminiError
		out.Error.Code = e.HTTPStatus
		out.Error.Message = e.Message
		out.Error.Status = geminiStatus(e.HTTPStatus)
		return json.Marshal(out)
	default:
		var out OpenAIError
		out.Error.Message = e.Message
		out.Error.Type = e.Type
		out.Error.Code = e.Code
		return json.Marshal(out)
	}
}

func geminiStatus(httpStatus int) string {
	switch httpStatus {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// IsRetryableUpstream reports whether a failed upstream attempt should be
// retried with the next credential. The status codes and markers follow the
// dispatch contract: 404/429/500/503, RESOURCE_EXHAUSTED, NOT_FOUND.
func IsRetryableUpstream(status int, errText string) bool {
	switch status {
	case http.StatusNotFound, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	if errText == "" {
		return false
	}
	return strings.Contains(errText, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errText, "NOT_FOUND")
}

// IsAuthFailure reports whether an upstream error indicates a revoked or
// unauthorized credential. Matches 401, 403 and PERMISSION_DENIED anywhere in
// the error text, which is how upstream surfaces token revocation.
func IsAuthFailure(errText string) bool {
	return strings.Contains(errText, "401") ||
		strings.Contains(errText, "403") ||
		strings.Contains(errText, "PERMISSION_DENIED")
}

// MapHTTPError maps an upstream HTTP status and payload to an APIError.
func MapHTTPError(statusCode int, upstreamBody []byte) *APIError {
	msg := extractUpstreamMessage(upstreamBody)
	switch statusCode {
	case http.StatusBadRequest:
		return New(statusCode, "invalid_request_error", "invalid_request_error", firstNonEmpty(msg, "Invalid request"))
	case http.StatusUnauthorized:
		return New(statusCode, "invalid_api_key", "authentication_error", firstNonEmpty(msg, "Invalid authentication"))
	case http.StatusForbidden:
		return New(statusCode, "permission_denied", "permission_error", firstNonEmpty(msg, "Permission denied"))
	case http.StatusNotFound:
		return New(statusCode, "not_found", "invalid_request_error", firstNonEmpty(msg, "Resource not found"))
	case http.StatusTooManyRequests:
		return New(statusCode, "rate_limit_exceeded", "rate_limit_error", firstNonEmpty(msg, "Rate limit exceeded"))
	case http.StatusServiceUnavailable:
		return New(statusCode, "service_unavailable", "server_error", firstNonEmpty(msg, "Service temporarily unavailable"))
	default:
		return New(statusCode, "upstream_error", "server_error", firstNonEmpty(msg, fmt.Sprintf("HTTP %d error", statusCode)))
	}
}

func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		if errObj, ok := payload["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
