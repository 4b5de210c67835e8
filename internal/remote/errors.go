package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/starford/loom/internal/apperr"
)

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the application error taxonomy.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case apperr.ErrAuthExpired:
		return e.StatusCode == http.StatusUnauthorized
	case apperr.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperr.ErrConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
	case apperr.ErrRemoteUnavailable:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// unavailable wraps a transport failure.
func unavailable(err error) error {
	return errors.Join(apperr.ErrRemoteUnavailable, err)
}
