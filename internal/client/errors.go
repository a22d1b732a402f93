package client

import (
	"errors"
	"fmt"

	"github.com/esp32-access-manager/backend/internal/apperr"
)

// ErrTransientNetwork wraps transport failures. The request may or may not
// have reached the server; mutating calls are never retried automatically.
var ErrTransientNetwork = errors.New("client: network error")

// ErrNoSession is returned by calls that need a signed-in session.
var ErrNoSession = errors.New("client: not signed in")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (%d %s)", e.Message, e.Status, e.Code)
}

// Kind maps the response code back to the server's error taxonomy.
func (e *APIError) Kind() apperr.Kind {
	return apperr.Kind(e.Code)
}

// IsKind reports whether err is an APIError of kind.
func IsKind(err error, kind apperr.Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind() == kind
}

// IsUnauthorized reports whether the server rejected the session or the
// credentials.
func IsUnauthorized(err error) bool {
	return IsKind(err, apperr.KindAuth)
}
