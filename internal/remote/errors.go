package remote

import (
	"errors"
	"fmt"
	"net/http"

	"fieldops/internal/model"
)

var ErrSignedOut = errors.New("not signed in")

// APIError is a non-2xx answer from the data service. Code is the
// snake_case value of the {"error": ...} body.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote: %d %s", e.Status, e.Code)
}

// Is lets callers match model.ErrConflict and model.ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case model.ErrConflict:
		return e.Status == http.StatusConflict
	case model.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

func IsConflict(err error) bool { return errors.Is(err, model.ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// IsUnauthorized reports a rejected or expired credential.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
