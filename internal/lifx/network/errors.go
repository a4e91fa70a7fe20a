package network

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the network context.
var (
	// ErrMessageTimeout is returned when a device does not answer in time.
	// Errors carrying the device id are *MessageTimeoutError.
	ErrMessageTimeout = errors.New("network: message timeout")

	// ErrNestedSync is returned when Sync is called with the ctx of an open
	// sync scope.
	ErrNestedSync = errors.New("network: sync scopes cannot be nested")

	// ErrNoClockSource is returned when Sync has messages to schedule but
	// no device is known to sample a clock from.
	ErrNoClockSource = errors.New("network: no device to sample clock from")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("network: context closed")
)

// MessageTimeoutError identifies the device that failed to answer.
type MessageTimeoutError struct {
	DeviceID string
	Op       string
}

func (e *MessageTimeoutError) Error() string {
	return fmt.Sprintf("network: %s: no answer from %s", e.Op, e.DeviceID)
}

// Is makes errors.Is(err, ErrMessageTimeout) hold.
func (e *MessageTimeoutError) Is(target error) bool {
	return target == ErrMessageTimeout
}
