package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// Default TCP settings.
const (
	// DefaultConnectTimeout bounds the initial dial.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 2 * time.Second

	// defaultSendBuffer keeps the kernel from batching many frames, so the
	// gateway rate limit stays meaningful.
	defaultSendBuffer = 1024

	// sizePeek is how much of the header is peeked to learn the frame size.
	sizePeek = 8
)

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	Host string
	Port int

	// ConnectTimeout bounds the dial. Default: 3 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each write. Default: 2 seconds.
	WriteTimeout time.Duration

	// SendBuffer is SO_SNDBUF in bytes. Default: 1024.
	SendBuffer int

	Logger Logger
}

// Ensure TCP implements Transport.
var _ Transport = (*TCP)(nil)

// TCP is a stream transport to one gateway.
//
// A TCP transport never reconnects. After a failed dial or any read/write
// error it reports Connected() == false and listeners implementing
// DisconnectListener are told once.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes are serialised so frames never interleave on the stream.
type TCP struct {
	cfg    TCPConfig
	addr   string
	logger Logger

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	writeMu sync.Mutex

	observers *Observers
	counters

	done     *closeOnce
	downOnce sync.Once
	wg       sync.WaitGroup
}

// NewTCP dials the gateway. A failed dial is not an error: the returned
// transport is simply disconnected, so the caller can count the attempt and
// retry later.
func NewTCP(ctx context.Context, cfg TCPConfig) *TCP {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}

	t := &TCP{
		cfg:       cfg,
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger:    cfg.Logger,
		observers: NewObservers(cfg.Logger),
		done:      newCloseOnce(),
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", t.addr)
	if err != nil {
		t.logger.Warn("tcp connect failed", "address", t.addr, "error", err)
		t.done.Close()
		return t
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetWriteBuffer(cfg.SendBuffer)
	}

	t.conn = conn
	t.connected = true
	t.logger.Debug("tcp connected", "address", t.addr)

	t.wg.Add(1)
	go t.readLoop(bufio.NewReader(conn))

	return t
}

func (t *TCP) readLoop(r *bufio.Reader) {
	defer t.wg.Done()

	for {
		frame, err := readFrame(r)
		if err != nil {
			if !t.done.IsClosed() {
				t.logger.Warn("tcp read failed", "transport", t.String(), "error", err)
			}
			t.teardown()
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			// Framing is intact, only this frame is bad.
			t.decodeErrors.Add(1)
			t.logger.Debug("dropping undecodable frame", "transport", t.String(), "error", err)
			continue
		}

		t.framesRx.Add(1)
		t.touch()
		t.observers.Notify(msg, t.cfg.Host, t)
	}
}

// readFrame peeks the size field and reads exactly one frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	head, err := r.Peek(sizePeek)
	if err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint16(head))
	if size < protocol.HeaderSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrProtocolDesync, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// teardown closes the socket and notifies listeners once. It never waits on
// the read loop, so it is safe to call from it.
func (t *TCP) teardown() {
	t.done.Close()

	t.connMu.Lock()
	conn := t.conn
	wasConnected := t.connected
	t.connected = false
	t.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		t.downOnce.Do(func() { t.observers.NotifyDisconnect(t) })
	}
}

// Write sends msg on the stream. Any socket error tears the transport down.
func (t *TCP) Write(msg *protocol.Message) bool {
	t.connMu.RLock()
	conn, connected := t.conn, t.connected
	t.connMu.RUnlock()
	if !connected {
		return false
	}

	data, err := msg.Encode()
	if err != nil {
		t.writeErrors.Add(1)
		t.logger.Error("tcp encode failed", "transport", t.String(), "error", err)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		t.fail(err)
		return false
	}
	if _, err := conn.Write(data); err != nil {
		t.fail(err)
		return false
	}

	t.framesTx.Add(1)
	t.touch()
	return true
}

func (t *TCP) fail(err error) {
	t.writeErrors.Add(1)
	if !errors.Is(err, net.ErrClosed) {
		t.logger.Warn("tcp write failed", "transport", t.String(), "error", err)
	}
	t.teardown()
}

// AddListener registers l for inbound frames and disconnect notices.
func (t *TCP) AddListener(l Listener) func() {
	return t.observers.Add(l)
}

// Connected reports whether the stream is up.
func (t *TCP) Connected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}

// Stats returns a snapshot of traffic counters.
func (t *TCP) Stats() Stats {
	return t.snapshot(t.Connected())
}

// Close tears down the stream and joins the read loop. Safe to call twice.
func (t *TCP) Close() error {
	t.teardown()
	t.wg.Wait()
	return nil
}

func (t *TCP) String() string {
	return fmt.Sprintf("TCP(%s)", t.addr)
}
