package lan

import (
	"context"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// Logger is the logging interface used throughout the package.
type Logger = transport.Logger

// Dialer opens transports. Tests substitute an in-memory implementation.
type Dialer interface {
	DialUDP(ctx context.Context, cfg transport.UDPConfig) (transport.Transport, error)
	DialTCP(ctx context.Context, cfg transport.TCPConfig) transport.Transport
}

// NetDialer opens real sockets.
type NetDialer struct{}

// Ensure NetDialer implements Dialer.
var _ Dialer = NetDialer{}

// DialUDP binds a UDP transport.
func (NetDialer) DialUDP(ctx context.Context, cfg transport.UDPConfig) (transport.Transport, error) {
	return transport.NewUDP(ctx, cfg)
}

// DialTCP dials a TCP transport. The result may be disconnected.
func (NetDialer) DialTCP(ctx context.Context, cfg transport.TCPConfig) transport.Transport {
	return transport.NewTCP(ctx, cfg)
}
