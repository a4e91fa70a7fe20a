package lan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// Gateway defaults.
const (
	// DefaultMessageRate is the messages per second a gateway accepts
	// before its firmware capability is known.
	DefaultMessageRate = 5.0

	// DefaultQueueSize bounds the per-gateway write queue.
	DefaultQueueSize = 10

	// DefaultMaxTCPAttempts is how many failed TCP dials are tolerated
	// before the gateway stays on UDP for good.
	DefaultMaxTCPAttempts = 3

	// disconnectedPoll is how often the writer re-checks an offline gateway.
	disconnectedPoll = 100 * time.Millisecond

	// flushPoll is how often Flush re-checks the queue.
	flushPoll = 50 * time.Millisecond
)

// GatewayConfig configures a GatewayConnection.
type GatewayConfig struct {
	// MessageRate in messages per second. Default: 5.
	MessageRate float64

	// QueueSize bounds queued writes. Default: 10.
	QueueSize int

	// MaxTCPAttempts caps consecutive failed TCP dials. Default: 3.
	MaxTCPAttempts int

	// DisableUDP and DisableTCP ignore the corresponding service
	// announcements.
	DisableUDP bool
	DisableTCP bool

	// ConnectTimeout and WriteTimeout are passed to TCP transports.
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	Dialer Dialer
	Logger Logger
}

func (c *GatewayConfig) applyDefaults() {
	if c.MessageRate <= 0 {
		c.MessageRate = DefaultMessageRate
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxTCPAttempts <= 0 {
		c.MaxTCPAttempts = DefaultMaxTCPAttempts
	}
	if c.Dialer == nil {
		c.Dialer = NetDialer{}
	}
	if c.Logger == nil {
		c.Logger = transport.NopLogger{}
	}
}

// GatewayStats is a snapshot of one gateway's write path.
type GatewayStats struct {
	ID           string
	SiteID       string
	IP           string
	Queued       int
	Sent         uint64
	Failed       uint64
	MessageRate  float64
	UDPConnected bool
	TCPConnected bool
	TCPAttempts  int
}

// GatewayConnection owns the transports to one gateway device and serialises
// writes to it.
//
// State progresses NoTransport → UDP only → TCP connected as service
// announcements arrive. TCP is preferred for writes once up; if it drops the
// connection falls back to UDP and a later announcement may reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Inbound frames are delivered on transport goroutines.
type GatewayConnection struct {
	id     string
	cfg    GatewayConfig
	logger Logger

	mu          sync.RWMutex
	ip          string
	udp         transport.Transport
	tcp         transport.Transport
	tcpAttempts int
	connecting  atomic.Bool

	limiter *rate.Limiter
	queue   *writeQueue

	observers *transport.Observers
	sent      atomic.Uint64
	failed    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGatewayConnection starts the writer for a gateway identified by id
// (its device id). No transport exists until HandleAnnouncement is called.
func NewGatewayConnection(id string, cfg GatewayConfig) *GatewayConnection {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	g := &GatewayConnection{
		id:        id,
		cfg:       cfg,
		logger:    cfg.Logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessageRate), 1),
		queue:     newWriteQueue(cfg.QueueSize),
		observers: transport.NewObservers(cfg.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}

	g.wg.Add(1)
	go g.writeLoop()

	return g
}

// ID returns the gateway's device id.
func (g *GatewayConnection) ID() string {
	return g.id
}

// HandleAnnouncement reacts to a StatePanGateway from ip, opening the
// advertised transport if it is not already up.
func (g *GatewayConnection) HandleAnnouncement(ip string, svc *protocol.StatePanGateway) {
	if g.ctx.Err() != nil {
		return
	}
	g.mu.Lock()
	g.ip = ip
	g.mu.Unlock()

	switch svc.Service {
	case protocol.ServiceUDP:
		if !g.cfg.DisableUDP && !g.UDPConnected() {
			g.connectUDP(ip, int(svc.Port))
		}
	case protocol.ServiceTCP:
		if !g.cfg.DisableTCP && !g.TCPConnected() && svc.Port > 0 {
			g.connectTCP(ip, int(svc.Port))
		}
	default:
		g.logger.Debug("ignoring unknown gateway service", "gateway", g.id, "service", svc.Service)
	}
}

func (g *GatewayConnection) connectUDP(ip string, port int) {
	t, err := g.cfg.Dialer.DialUDP(g.ctx, transport.UDPConfig{Host: ip, Port: port, Logger: g.logger})
	if err != nil {
		g.logger.Warn("gateway udp setup failed", "gateway", g.id, "address", ip, "error", err)
		return
	}
	t.AddListener(g)

	g.mu.Lock()
	old := g.udp
	g.udp = t
	g.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	g.logger.Debug("gateway udp ready", "gateway", g.id, "address", ip, "port", port)
}

// connectTCP dials in the background so announcement handling never blocks
// on a slow gateway.
func (g *GatewayConnection) connectTCP(ip string, port int) {
	g.mu.RLock()
	attempts := g.tcpAttempts
	g.mu.RUnlock()
	if attempts >= g.cfg.MaxTCPAttempts {
		return
	}
	if !g.connecting.CompareAndSwap(false, true) {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.connecting.Store(false)

		t := g.cfg.Dialer.DialTCP(g.ctx, transport.TCPConfig{
			Host:           ip,
			Port:           port,
			ConnectTimeout: g.cfg.ConnectTimeout,
			WriteTimeout:   g.cfg.WriteTimeout,
			Logger:         g.logger,
		})

		if !t.Connected() || g.ctx.Err() != nil {
			_ = t.Close()
			g.mu.Lock()
			g.tcpAttempts++
			attempts := g.tcpAttempts
			g.mu.Unlock()
			if attempts >= g.cfg.MaxTCPAttempts {
				g.logger.Warn("giving up on tcp, staying on udp",
					"gateway", g.id, "address", ip, "attempts", attempts)
			}
			return
		}

		t.AddListener(g)
		g.mu.Lock()
		old := g.tcp
		g.tcp = t
		g.tcpAttempts = 0
		g.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		g.logger.Info("gateway tcp connected", "gateway", g.id, "address", ip, "port", port)
	}()
}

// OnMessage forwards transport frames to the gateway's listeners.
func (g *GatewayConnection) OnMessage(msg *protocol.Message, source string, t transport.Transport) {
	g.observers.Notify(msg, source, t)
}

// OnDisconnect clears a dropped TCP transport so writes fall back to UDP.
func (g *GatewayConnection) OnDisconnect(t transport.Transport) {
	g.mu.Lock()
	if g.tcp != t {
		g.mu.Unlock()
		return
	}
	g.tcp = nil
	g.mu.Unlock()

	// The transport has already released its socket.
	g.logger.Info("gateway tcp dropped, falling back to udp", "gateway", g.id)
}

// AddListener registers l for every frame received from this gateway.
func (g *GatewayConnection) AddListener(l transport.Listener) func() {
	return g.observers.Add(l)
}

// Write queues msg, blocking while the queue is full.
//
// Returns:
//   - error: ErrClosed after Close, or ctx.Err() if ctx ends while blocked
func (g *GatewayConnection) Write(ctx context.Context, msg *protocol.Message) error {
	return g.queue.push(ctx, g.ctx.Done(), msg)
}

func (g *GatewayConnection) writeLoop() {
	defer g.wg.Done()

	for {
		if !g.waitConnected() {
			return
		}

		msg, ok := g.queue.pop(g.ctx.Done())
		if !ok {
			return
		}

		if err := g.limiter.Wait(g.ctx); err != nil {
			g.queue.requeue(msg)
			return
		}

		if g.writeBest(msg) {
			g.sent.Add(1)
			g.queue.finish()
			continue
		}

		g.failed.Add(1)
		g.logger.Warn("gateway write failed, requeueing", "gateway", g.id, "type", msg.Type)
		g.queue.requeue(msg)
	}
}

// waitConnected blocks until some transport is up. Returns false on Close.
func (g *GatewayConnection) waitConnected() bool {
	for !g.Connected() {
		select {
		case <-g.ctx.Done():
			return false
		case <-time.After(disconnectedPoll):
		}
	}
	return g.ctx.Err() == nil
}

func (g *GatewayConnection) writeBest(msg *protocol.Message) bool {
	g.mu.RLock()
	tcp, udp := g.tcp, g.udp
	g.mu.RUnlock()

	if tcp != nil && tcp.Connected() {
		if tcp.Write(msg) {
			return true
		}
	}
	if udp != nil && udp.Connected() {
		return udp.Write(msg)
	}
	return false
}

// Flush blocks until every queued message has been written.
//
// Returns:
//   - error: ErrFlushTimeout wrapping ctx.Err() if ctx ends first
func (g *GatewayConnection) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPoll)
	defer ticker.Stop()

	for !g.queue.idle() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: gateway %s: %w", ErrFlushTimeout, g.id, ctx.Err())
		case <-g.ctx.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

// SetMessageRate changes the write rate in messages per second.
func (g *GatewayConnection) SetMessageRate(r float64) {
	if r <= 0 {
		return
	}
	g.limiter.SetLimit(rate.Limit(r))
}

// MessageRate returns the current write rate.
func (g *GatewayConnection) MessageRate() float64 {
	return float64(g.limiter.Limit())
}

// UDPConnected reports whether a UDP transport is up.
func (g *GatewayConnection) UDPConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.udp != nil && g.udp.Connected()
}

// TCPConnected reports whether a TCP transport is up.
func (g *GatewayConnection) TCPConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tcp != nil && g.tcp.Connected()
}

// Connected reports whether any transport is up.
func (g *GatewayConnection) Connected() bool {
	return g.UDPConnected() || g.TCPConnected()
}

// Stale reports whether the gateway has no usable transport and none is
// being established.
func (g *GatewayConnection) Stale() bool {
	return !g.Connected() && !g.connecting.Load()
}

// Stats returns a snapshot of the write path.
func (g *GatewayConnection) Stats() GatewayStats {
	g.mu.RLock()
	ip, attempts := g.ip, g.tcpAttempts
	g.mu.RUnlock()

	return GatewayStats{
		ID:           g.id,
		IP:           ip,
		Queued:       g.queue.size(),
		Sent:         g.sent.Load(),
		Failed:       g.failed.Load(),
		MessageRate:  g.MessageRate(),
		UDPConnected: g.UDPConnected(),
		TCPConnected: g.TCPConnected(),
		TCPAttempts:  attempts,
	}
}

// Close stops the writer and closes both transports. Queued messages are
// discarded. Safe to call more than once.
func (g *GatewayConnection) Close() error {
	g.cancel()
	g.wg.Wait()

	g.mu.Lock()
	tcp, udp := g.tcp, g.udp
	g.tcp, g.udp = nil, nil
	g.mu.Unlock()

	var errs []error
	for _, t := range []transport.Transport{tcp, udp} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *GatewayConnection) String() string {
	s := g.Stats()
	return fmt.Sprintf("Gateway(%s ip=%s tcp=%t udp=%t attempts=%d)", s.ID, s.IP, s.TCPConnected, s.UDPConnected, s.TCPAttempts)
}
