package registry

import "errors"

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrDuplicateUser = errors.New("user already registered")
	ErrTooManyUsers  = errors.New("too many connected users")

	ErrFlightNotFound  = errors.New("flight not found")
	ErrFlightFull      = errors.New("flight is full")
	ErrNotFlightMember = errors.New("not a member of this flight")
	ErrSelfTarget      = errors.New("cannot target yourself")
	// ErrTargetBusy refuses a direct connect to a user who is already in a
	// flight.
	ErrTargetBusy = errors.New("target user is busy")

	// ErrCodeSpaceExhausted is returned when no unused flight code was found
	// within Options.MaxCodeAttempts draws.
	ErrCodeSpaceExhausted = errors.New("flight code space exhausted")
)
