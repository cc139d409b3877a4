package verification

import "errors"

// Sentinel errors surfaced to callers. Handlers map these onto HTTP
// status codes; anything else is treated as a dependency failure the
// caller may retry.
var (
	ErrNotFound        = errors.New("verification request not found")
	ErrInvalidState    = errors.New("transition not allowed from current status")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("role not authorized for this transition")
)
