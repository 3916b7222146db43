package client

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from an external API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Unauthorized reports a rejected or missing credential.
func (e *APIError) Unauthorized() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "invalid_api_key")
}

// QuotaExceeded reports an exhausted account quota, which retrying cannot fix.
func (e *APIError) QuotaExceeded() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "insufficient_quota")
}

// BadRequest reports a request the service will never accept, such as an unknown model.
func (e *APIError) BadRequest() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusNotFound
}
