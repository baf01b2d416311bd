package line

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when X-Line-Signature does not match the body
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotConfigured is returned when the channel credentials are missing
	ErrNotConfigured = errors.New("LINE channel is not configured")
	// ErrAPI is the parent of every non-2xx Messaging API response
	ErrAPI = errors.New("LINE API error")
)

// APIError is a non-2xx response from the Messaging API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("LINE API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("LINE API returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match any API failure with errors.Is(err, ErrAPI)
func (e *APIError) Unwrap() error {
	return ErrAPI
}

// clientError reports whether the failure was caused by the request rather than the platform
func (e *APIError) clientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
