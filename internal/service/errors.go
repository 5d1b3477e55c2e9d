package service

import "errors"

// Resolution and mutation errors surfaced to the HTTP layer. Controllers map
// these to status codes; anything else is treated as an internal error.
var (
	// ErrNotFound: no link exists for the token (404).
	ErrNotFound = errors.New("link not found")
	// ErrExpired: the link exists but its expiry is in the past (410).
	// Distinct from ErrNotFound so clients can tell "never existed" from
	// "used to work".
	ErrExpired = errors.New("link expired")
	// ErrAliasTaken: the requested alias collides with an existing short
	// code or alias (409).
	ErrAliasTaken = errors.New("alias already taken")
	// ErrCodeExhausted: the allocator could not find a free generated code
	// within the bounded number of attempts.
	ErrCodeExhausted = errors.New("could not allocate a unique short code")
	// ErrForbidden: the caller does not own the link (403).
	ErrForbidden = errors.New("forbidden")
)
