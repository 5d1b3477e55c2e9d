package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("link not found")
	// ErrDuplicateKey is returned when an insert violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
