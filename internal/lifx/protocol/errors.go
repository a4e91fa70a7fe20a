package protocol

import "errors"

// Domain-specific errors for frame encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnpack is the class of all decode failures. Decode errors wrap it
	// together with a more specific sentinel below.
	ErrUnpack = errors.New("lifx: unpack failed")

	// ErrInvalidFrame is returned for frames shorter than the header or whose
	// declared size disagrees with the bytes received.
	ErrInvalidFrame = errors.New("lifx: invalid frame")

	// ErrUnsupportedProtocol is returned when the protocol field is not Version.
	ErrUnsupportedProtocol = errors.New("lifx: unsupported protocol version")

	// ErrNotAddressable is returned for frames without the addressable bit.
	ErrNotAddressable = errors.New("lifx: frame is not addressable")

	// ErrPack is the class of all encode failures.
	ErrPack = errors.New("lifx: pack failed")

	// ErrNoPayload is returned when encoding a message without a payload.
	ErrNoPayload = errors.New("lifx: no payload")

	// ErrNoPath is returned when encoding a message without a resolved path.
	ErrNoPath = errors.New("lifx: no path")
)

// ErrInvalidID is returned when a site or device id is not 12 hex characters.
var ErrInvalidID = errors.New("lifx: invalid site or device id")
