package routing

import "errors"

// Domain-specific errors for routing.
var (
	// ErrTagLimitReached is returned when all 64 tag slots on a site are used.
	ErrTagLimitReached = errors.New("routing: tag limit reached")

	// ErrTagNotFound is returned when a tag label is unknown on every site.
	ErrTagNotFound = errors.New("routing: tag not found")

	// ErrUnroutable is returned when a target resolves to no path at all.
	ErrUnroutable = errors.New("routing: no route to target")

	// ErrInvalidTarget is returned for targets with conflicting or missing
	// discriminators.
	ErrInvalidTarget = errors.New("routing: invalid target")
)
