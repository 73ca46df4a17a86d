package envelope

import "errors"

// Errors returned by Service. Unknown ids surface as store.ErrNotFound.
var (
	// ErrInvalidRequest is returned when a required field is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrForbidden is returned by Get when the requesting agent holds no read or use grant.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned by Create when re-creating a deleted id is disabled.
	ErrConflict = errors.New("conflict")
)
