package database

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrListingNotFound         = errors.New("listing not found")
	ErrRequestNotFound         = errors.New("booking request not found")
	ErrInsufficientCapacity    = errors.New("not enough capacity remaining")
	ErrListingNotActive        = errors.New("listing is not active")
	ErrRequestNotPending       = errors.New("booking request is not pending")
	ErrRequestNotCancellable   = errors.New("booking request cannot be cancelled")
	ErrDuplicatePendingRequest = errors.New("requester already has a pending request for this listing")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
