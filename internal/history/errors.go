package history

import "errors"

var (
	// ErrNotFound is returned by Open when the database does not exist and
	// creation was not requested.
	ErrNotFound = errors.New("history database not found")

	// ErrNilVerification is returned when saving a nil verification.
	ErrNilVerification = errors.New("verification is nil")

	// ErrInvalidLimit is returned when a listing limit is not positive.
	ErrInvalidLimit = errors.New("invalid limit: must be positive")
)
