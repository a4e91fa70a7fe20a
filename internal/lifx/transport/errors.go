package transport

import "errors"

// Domain-specific errors for transports.
var (
	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrProtocolDesync is returned when a TCP stream announces a frame
	// size that cannot be valid. The stream is unusable afterwards.
	ErrProtocolDesync = errors.New("transport: protocol desync")
)
