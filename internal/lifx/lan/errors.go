package lan

import "errors"

// Domain-specific errors for LAN management.
var (
	// ErrClosed is returned when writing to a closed gateway, site or manager.
	ErrClosed = errors.New("lan: closed")

	// ErrFlushTimeout is returned when queued messages did not drain in time.
	ErrFlushTimeout = errors.New("lan: flush timed out")

	// ErrUnknownSite is returned when writing to a site that has not been
	// discovered.
	ErrUnknownSite = errors.New("lan: unknown site")
)
