package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// datagramSize bounds a single received datagram. LAN frames are far smaller.
const datagramSize = 1024

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Host is the destination for writes: a gateway IP or a broadcast address.
	Host string

	// Port is the destination port for writes.
	Port int

	// ListenPort is the local port to bind. Zero picks an ephemeral port.
	// Non-zero ports are bound with address and port reuse so several
	// clients on one machine can share the discovery port.
	ListenPort int

	// Logger receives decode failures and listener panics. Optional.
	Logger Logger
}

// Ensure UDP implements Transport.
var _ Transport = (*UDP)(nil)

// UDP is a datagram transport with one unconnected, broadcast-capable socket
// used for both sending and receiving.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners run on the read loop goroutine.
type UDP struct {
	cfg    UDPConfig
	conn   *net.UDPConn
	dest   *net.UDPAddr
	logger Logger

	observers *Observers
	counters

	// failed is set by the first send error. The socket stays open for
	// reads, but the transport no longer reports itself connected.
	failed   atomic.Bool
	downOnce sync.Once

	done *closeOnce
	wg   sync.WaitGroup
}

// NewUDP binds the socket and starts the read loop.
//
// Parameters:
//   - ctx: Bounds address resolution and binding
//   - cfg: Destination and listen settings
//
// Returns:
//   - *UDP: Running transport
//   - error: If the destination cannot be resolved or the port cannot be bound
func NewUDP(ctx context.Context, cfg UDPConfig) (*UDP, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	lc := net.ListenConfig{}
	if cfg.ListenPort != 0 {
		lc.Control = reuseControl
	}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(cfg.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", cfg.ListenPort, err)
	}

	u := &UDP{
		cfg:       cfg,
		conn:      pc.(*net.UDPConn),
		dest:      dest,
		logger:    logger,
		observers: NewObservers(logger),
		done:      newCloseOnce(),
	}

	u.wg.Add(1)
	go u.readLoop()

	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, datagramSize)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.done.IsClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Warn("udp read failed", "transport", u.String(), "error", err)
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			u.decodeErrors.Add(1)
			u.logger.Debug("dropping undecodable datagram", "from", addr.String(), "error", err)
			continue
		}

		u.framesRx.Add(1)
		u.touch()
		u.observers.Notify(msg, addr.IP.String(), u)
	}
}

// Write encodes msg and sends it to the configured destination. A send
// error marks the transport disconnected and notifies DisconnectListeners.
func (u *UDP) Write(msg *protocol.Message) bool {
	if !u.Connected() {
		return false
	}

	data, err := msg.Encode()
	if err != nil {
		u.writeErrors.Add(1)
		u.logger.Error("udp encode failed", "transport", u.String(), "error", err)
		return false
	}

	if _, err := u.conn.WriteToUDP(data, u.dest); err != nil {
		u.writeErrors.Add(1)
		u.logger.Warn("udp write failed", "transport", u.String(), "error", err)
		u.markDown()
		return false
	}

	u.framesTx.Add(1)
	u.touch()
	return true
}

// AddListener registers l for inbound frames.
func (u *UDP) AddListener(l Listener) func() {
	return u.observers.Add(l)
}

func (u *UDP) markDown() {
	u.failed.Store(true)
	u.downOnce.Do(func() { u.observers.NotifyDisconnect(u) })
}

// Connected is true until Close or the first failed send. Datagram sockets
// have no other link state.
func (u *UDP) Connected() bool {
	return !u.done.IsClosed() && !u.failed.Load()
}

// Stats returns a snapshot of traffic counters.
func (u *UDP) Stats() Stats {
	return u.snapshot(u.Connected())
}

// Close stops the read loop and releases the socket. Safe to call twice.
func (u *UDP) Close() error {
	u.done.Close()
	err := u.conn.Close()
	u.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing udp transport: %w", err)
	}
	return nil
}

func (u *UDP) String() string {
	return fmt.Sprintf("UDP(%s)", u.dest)
}
