// Package transport wraps the UDP and TCP sockets used to talk to LIFX
// gateways.
//
// Every transport decodes inbound frames and publishes them to registered
// listeners together with the sender's IP. Writes report only whether the
// bytes reached the OS; delivery is never guaranteed.
//
// # Lifecycle
//
//   - UDP transports bind one unconnected socket, optionally on a shared
//     port (SO_REUSEADDR/SO_REUSEPORT), and read datagrams until closed.
//   - TCP transports dial once with a bounded timeout. A failed dial or any
//     later socket error leaves the transport disconnected; reconnection is
//     the owner's job.
//   - Close unblocks the listener goroutine immediately and joins it.
package transport
