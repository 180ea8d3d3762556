package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the request carried no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden matches every *ForbiddenError.
	ErrForbidden = errors.New("forbidden")
)

// ForbiddenError reports the requirement a caller failed to meet.
type ForbiddenError struct {
	Required Requirement
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: requires %s", e.Required)
}

// Is lets errors.Is(err, ErrForbidden) match any ForbiddenError.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
