package lan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// Discovery defaults.
const (
	// DefaultBroadcastAddress is where discovery and all-sites frames go.
	DefaultBroadcastAddress = "255.255.255.255"

	// DefaultDiscoveryInterval is the steady-state discovery period once at
	// least one site is known.
	DefaultDiscoveryInterval = 20 * time.Second

	// DefaultDiscoveryIntervalNoSites is the discovery period while nothing
	// has answered yet.
	DefaultDiscoveryIntervalNoSites = time.Second
)

// Config configures a Manager.
type Config struct {
	// BroadcastAddress is the destination of broadcast frames.
	// Default: 255.255.255.255.
	BroadcastAddress string

	// Port is both the discovery destination port and the local listen
	// port. Default: 56700.
	Port int

	// PeerPort carries advisory traffic between clients on the same
	// network. Default: 56750. Negative disables the peer channel.
	PeerPort int

	DiscoveryInterval        time.Duration
	DiscoveryIntervalNoSites time.Duration

	// Site is applied to every site the manager creates.
	Site SiteConfig

	Dialer Dialer
	Logger Logger
}

func (c *Config) applyDefaults() {
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = DefaultBroadcastAddress
	}
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.PeerPort == 0 {
		c.PeerPort = protocol.PeerPort
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.DiscoveryIntervalNoSites <= 0 {
		c.DiscoveryIntervalNoSites = DefaultDiscoveryIntervalNoSites
	}
	if c.Dialer == nil {
		c.Dialer = NetDialer{}
	}
	if c.Logger == nil {
		c.Logger = transport.NopLogger{}
	}
	if c.Site.Logger == nil {
		c.Site.Logger = c.Logger
	}
	if c.Site.Gateway.Dialer == nil {
		c.Site.Gateway.Dialer = c.Dialer
	}
}

// Manager owns the broadcast socket and every discovered site.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger Logger

	broadcast transport.Transport
	peer      transport.Transport

	mu    sync.RWMutex
	sites map[string]*Site

	observers     *transport.Observers
	peerObservers *transport.Observers

	discoveryMu     sync.Mutex
	discoveryCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the broadcast and peer sockets. Discovery starts with Discover.
//
// Returns:
//   - *Manager: Listening manager
//   - error: If the broadcast socket cannot be bound
func New(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		logger:        cfg.Logger,
		sites:         make(map[string]*Site),
		observers:     transport.NewObservers(cfg.Logger),
		peerObservers: transport.NewObservers(cfg.Logger),
		ctx:           runCtx,
		cancel:        cancel,
	}

	broadcast, err := cfg.Dialer.DialUDP(ctx, transport.UDPConfig{
		Host:       cfg.BroadcastAddress,
		Port:       cfg.Port,
		ListenPort: cfg.Port,
		Logger:     cfg.Logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening broadcast transport: %w", err)
	}
	m.broadcast = broadcast
	broadcast.AddListener(transport.ListenerFunc(m.handleBroadcast))

	if cfg.PeerPort > 0 {
		peer, err := cfg.Dialer.DialUDP(ctx, transport.UDPConfig{
			Host:       cfg.BroadcastAddress,
			Port:       cfg.PeerPort,
			ListenPort: cfg.PeerPort,
			Logger:     cfg.Logger,
		})
		if err != nil {
			// Advisory only; run without it.
			m.logger.Warn("peer channel unavailable", "port", cfg.PeerPort, "error", err)
		} else {
			m.peer = peer
			peer.AddListener(transport.ListenerFunc(m.peerObservers.Notify))
		}
	}

	return m, nil
}

// AddListener registers l for every inbound frame from any socket.
func (m *Manager) AddListener(l transport.Listener) func() {
	return m.observers.Add(l)
}

// AddPeerListener registers l for frames seen on the peer channel.
func (m *Manager) AddPeerListener(l transport.Listener) func() {
	return m.peerObservers.Add(l)
}

func (m *Manager) handleBroadcast(msg *protocol.Message, source string, t transport.Transport) {
	if _, ok := msg.Payload.(*protocol.StatePanGateway); ok && !msg.Path.IsAllSites() {
		if site := m.siteFor(msg.SiteID()); site != nil {
			site.HandleAnnouncement(msg, source)
		}
	}

	m.mu.RLock()
	site := m.sites[msg.SiteID()]
	m.mu.RUnlock()
	if site != nil {
		site.Inspect(msg)
	}

	m.observers.Notify(msg, source, t)
}

// siteFor returns the site with id, creating it if needed. It returns nil
// once Close has begun.
func (m *Manager) siteFor(id string) *Site {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Close cancels before it swaps out the sites map.
	if m.ctx.Err() != nil {
		return nil
	}

	if site, ok := m.sites[id]; ok {
		return site
	}
	site := NewSite(id, m.cfg.Site)
	site.AddListener(transport.ListenerFunc(m.observers.Notify))
	m.sites[id] = site
	m.logger.Info("site discovered", "site", id)
	return site
}

// Discover starts (or restarts) the discovery loop.
func (m *Manager) Discover() {
	m.discoveryMu.Lock()
	defer m.discoveryMu.Unlock()

	if m.ctx.Err() != nil {
		return
	}
	if m.discoveryCancel != nil {
		m.discoveryCancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.discoveryCancel = cancel

	m.wg.Add(1)
	go m.discoveryLoop(ctx)
}

// StopDiscovery stops the discovery loop if running.
func (m *Manager) StopDiscovery() {
	m.discoveryMu.Lock()
	defer m.discoveryMu.Unlock()
	if m.discoveryCancel != nil {
		m.discoveryCancel()
		m.discoveryCancel = nil
	}
}

func (m *Manager) discoveryLoop(ctx context.Context) {
	defer m.wg.Done()

	m.logger.Info("discovering gateways", "address", m.cfg.BroadcastAddress, "port", m.cfg.Port)
	for {
		m.dropEmptySites()

		msg := protocol.NewMessage(protocol.AllSitesPath(), &protocol.GetPanGateway{})
		if !m.broadcast.Write(msg) {
			m.logger.Warn("discovery broadcast failed")
		}
		m.mirrorToPeers(msg)

		interval := m.cfg.DiscoveryInterval
		if m.SiteCount() == 0 {
			interval = m.cfg.DiscoveryIntervalNoSites
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// dropEmptySites closes sites whose gateways have all gone stale.
func (m *Manager) dropEmptySites() {
	var empty []*Site

	m.mu.Lock()
	for id, site := range m.sites {
		if site.Abandoned() {
			empty = append(empty, site)
			delete(m.sites, id)
		}
	}
	m.mu.Unlock()

	for _, site := range empty {
		m.logger.Info("site lost", "site", site.ID())
		_ = site.Close()
	}
}

// Write routes msg: all-sites paths go out on the broadcast socket, other
// paths to every gateway of their site.
//
// Returns:
//   - error: ErrUnknownSite if the site has not been discovered, ErrClosed
//     after Close, or ctx.Err() if ctx ends while a gateway queue is full
func (m *Manager) Write(ctx context.Context, msg *protocol.Message) error {
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	if msg.Path == nil {
		return fmt.Errorf("%w: %w", protocol.ErrPack, protocol.ErrNoPath)
	}

	m.mirrorToPeers(msg)

	if msg.Path.IsAllSites() {
		m.broadcast.Write(msg.Clone())
		return nil
	}

	m.mu.RLock()
	site := m.sites[msg.SiteID()]
	m.mu.RUnlock()
	if site == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSite, msg.SiteID())
	}
	return site.Write(ctx, msg)
}

func (m *Manager) mirrorToPeers(msg *protocol.Message) {
	if m.peer != nil {
		m.peer.Write(msg.Clone())
	}
}

// Flush waits for every site's gateway queues to drain.
func (m *Manager) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, site := range m.Sites() {
		g.Go(func() error { return site.Flush(ctx) })
	}
	return g.Wait()
}

// Sites returns the known sites ordered by id.
func (m *Manager) Sites() []*Site {
	m.mu.RLock()
	out := make([]*Site, 0, len(m.sites))
	for _, site := range m.sites {
		out = append(out, site)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SiteIDs returns the ids of the known sites in order.
func (m *Manager) SiteIDs() []string {
	sites := m.Sites()
	ids := make([]string, len(sites))
	for i, s := range sites {
		ids[i] = s.ID()
	}
	return ids
}

// SiteCount returns the number of known sites.
func (m *Manager) SiteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sites)
}

// Gateways returns every gateway across all sites.
func (m *Manager) Gateways() []*GatewayConnection {
	var out []*GatewayConnection
	for _, site := range m.Sites() {
		out = append(out, site.Gateways()...)
	}
	return out
}

// GatewayStats returns a snapshot of every gateway, tagged with its site.
func (m *Manager) GatewayStats() []GatewayStats {
	var out []GatewayStats
	for _, site := range m.Sites() {
		for _, gw := range site.Gateways() {
			st := gw.Stats()
			st.SiteID = site.ID()
			out = append(out, st)
		}
	}
	return out
}

// MessageRate returns the slowest rate across sites, or the default rate
// when nothing is known.
func (m *Manager) MessageRate() float64 {
	rate := 0.0
	for _, site := range m.Sites() {
		if r := site.MessageRate(); rate == 0 || r < rate {
			rate = r
		}
	}
	if rate == 0 {
		return DefaultMessageRate
	}
	return rate
}

// Close stops discovery, closes every site and releases the sockets.
func (m *Manager) Close() error {
	m.StopDiscovery()
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	sites := m.sites
	m.sites = make(map[string]*Site)
	m.mu.Unlock()

	var errs []error
	for _, site := range sites {
		if err := site.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.broadcast.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.peer != nil {
		if err := m.peer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
