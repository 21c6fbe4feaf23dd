package client

import (
	"fmt"
	"net/http"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// APIError is a structured error returned by the HTTP API.
type APIError struct {
	Status        int
	Code          string
	Message       string
	CorrelationID string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status > 0 {
		return fmt.Sprintf("api error: %d", e.Status)
	}
	return "api error"
}

// Unwrap maps the HTTP status back to the application error it came from, so
// callers can use errors.Is regardless of transport.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrInvalidInput
	case http.StatusNotFound:
		return app.ErrNotFound
	case http.StatusConflict:
		return app.ErrConflict
	case http.StatusRequestEntityTooLarge:
		return app.ErrSizeExceeded
	case http.StatusServiceUnavailable:
		return app.ErrStorageUnavailable
	}
	return nil
}
