package core

import (
	"errors"
	"fmt"
	"samplecore/internal/access"
)

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrMalformedRequest marks requests rejected before any mutation because
// their shape is invalid.
var ErrMalformedRequest = errors.New("malformed request")

// AuthorizationError is raised when the actor lacks a capability.
type AuthorizationError = access.AuthorizationError

// IsAuthorizationError reports whether err carries an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var authErr AuthorizationError
	return errors.As(err, &authErr)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}
