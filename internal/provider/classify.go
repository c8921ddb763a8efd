package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Category buckets a provider failure for retry policy and diagnostics.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryPermission Category = "permission"
	CategoryQuota      Category = "quota"
	CategoryRateLimit  Category = "rate_limit"
	CategoryInvalid    Category = "invalid"
	CategoryServer     Category = "server"
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryUnknown    Category = "unknown"
)

const quotaMarker = "insufficient_quota"

// Classify buckets a provider error and reports whether a retry could help.
// It is a pure function of the error's status code, provider error code, and
// message, so a given failure always classifies the same way.
func Classify(err error) (Category, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return CategoryAuth, false
		case apiErr.StatusCode == http.StatusForbidden:
			return CategoryPermission, false
		case apiErr.StatusCode == http.StatusTooManyRequests:
			if apiErr.Code == quotaMarker || strings.Contains(apiErr.Message, quotaMarker) {
				return CategoryQuota, false
			}
			return CategoryRateLimit, true
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.Type == "invalid_request_error":
			return CategoryInvalid, false
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500:
			return CategoryServer, true
		default:
			return CategoryUnknown, false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout, true
		}
		return CategoryConnection, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryConnection, true
	}

	return CategoryUnknown, false
}

var categoryPrefixes = map[Category]string{
	CategoryAuth:       "Authentication error",
	CategoryPermission: "Permission error",
	CategoryQuota:      "Quota exceeded",
	CategoryRateLimit:  "Rate limited",
	CategoryInvalid:    "Invalid request",
	CategoryServer:     "Provider error",
	CategoryTimeout:    "Request timeout",
	CategoryConnection: "Connection error",
	CategoryUnknown:    "Unexpected error",
}

// FailureMessage renders a category-prefixed, human-readable diagnostic for
// an item's last_error column.
func FailureMessage(cat Category, err error) string {
	prefix, ok := categoryPrefixes[cat]
	if !ok {
		prefix = categoryPrefixes[CategoryUnknown]
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("%s: %s", prefix, apiErr.Message)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
