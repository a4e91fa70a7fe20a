package lan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// Site defaults.
const (
	// DefaultScanDelay lets the first TCP upgrade finish before the initial
	// light scan floods the gateway.
	DefaultScanDelay = time.Second

	// DefaultScanInterval is how often every light on the site is re-queried.
	DefaultScanInterval = 30 * time.Second

	// DefaultStaleSweepInterval is how often dead gateways are dropped.
	DefaultStaleSweepInterval = 10 * time.Second

	// DefaultUpgradedMessageRate applies once a gateway reports mesh
	// firmware 1.2 or newer.
	DefaultUpgradedMessageRate = 20.0
)

// Firmware from which a gateway sustains the upgraded message rate.
const (
	fastFirmwareMajor = 1
	fastFirmwareMinor = 2
)

// SiteConfig configures a Site.
type SiteConfig struct {
	ScanDelay           time.Duration
	ScanInterval        time.Duration
	StaleSweepInterval  time.Duration
	UpgradedMessageRate float64

	// Gateway is applied to every gateway the site creates.
	Gateway GatewayConfig

	Logger Logger
}

func (c *SiteConfig) applyDefaults() {
	if c.ScanDelay <= 0 {
		c.ScanDelay = DefaultScanDelay
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.StaleSweepInterval <= 0 {
		c.StaleSweepInterval = DefaultStaleSweepInterval
	}
	if c.UpgradedMessageRate <= 0 {
		c.UpgradedMessageRate = DefaultUpgradedMessageRate
	}
	if c.Logger == nil {
		c.Logger = transport.NopLogger{}
	}
	if c.Gateway.MessageRate <= 0 {
		c.Gateway.MessageRate = DefaultMessageRate
	}
	if c.Gateway.Logger == nil {
		c.Gateway.Logger = c.Logger
	}
}

// Site groups the gateways of one PAN.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The gateway map lock is never held while calling into a gateway.
type Site struct {
	id      string
	cfg     SiteConfig
	logger  Logger
	created time.Time

	mu       sync.RWMutex
	gateways map[string]*GatewayConnection

	observers *transport.Observers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSite creates a site and starts its scan and sweep loops.
func NewSite(id string, cfg SiteConfig) *Site {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Site{
		id:        id,
		cfg:       cfg,
		created:   time.Now(),
		logger:    cfg.Logger,
		gateways:  make(map[string]*GatewayConnection),
		observers: transport.NewObservers(cfg.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.wg.Add(2)
	go s.scanLoop()
	go s.sweepLoop()

	return s
}

// ID returns the site id as hex.
func (s *Site) ID() string {
	return s.id
}

// HandleAnnouncement routes a StatePanGateway to its gateway, creating the
// gateway on first sight.
func (s *Site) HandleAnnouncement(msg *protocol.Message, ip string) {
	svc, ok := msg.Payload.(*protocol.StatePanGateway)
	if !ok {
		return
	}
	gatewayID, ok := msg.DeviceID()
	if !ok {
		gatewayID = ip
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	gw, exists := s.gateways[gatewayID]
	if !exists {
		gw = NewGatewayConnection(gatewayID, s.cfg.Gateway)
		gw.AddListener(s)
		s.gateways[gatewayID] = gw
	}
	s.mu.Unlock()

	gw.HandleAnnouncement(ip, svc)

	if !exists {
		s.logger.Info("gateway discovered", "site", s.id, "gateway", gatewayID, "address", ip)
		s.requestFirmware(gw)
	}
}

func (s *Site) requestFirmware(gw *GatewayConnection) {
	path, err := protocol.NewDevicePath(s.id, gw.ID())
	if err != nil {
		// Gateways keyed by IP have no device id to address.
		return
	}
	if err := gw.Write(s.ctx, protocol.NewMessage(path, &protocol.GetMeshFirmware{})); err != nil {
		s.logger.Debug("firmware request not queued", "gateway", gw.ID(), "error", err)
	}
}

// Inspect lets the site react to frames addressed from it. A mesh firmware
// report from one of its gateways may raise that gateway's message rate.
func (s *Site) Inspect(msg *protocol.Message) {
	fw, ok := msg.Payload.(*protocol.StateMeshFirmware)
	if !ok {
		return
	}
	deviceID, ok := msg.DeviceID()
	if !ok {
		return
	}

	s.mu.RLock()
	gw := s.gateways[deviceID]
	s.mu.RUnlock()
	if gw == nil {
		return
	}

	major, minor := fw.Major(), fw.Minor()
	if major > fastFirmwareMajor || (major == fastFirmwareMajor && minor >= fastFirmwareMinor) {
		if gw.MessageRate() < s.cfg.UpgradedMessageRate {
			gw.SetMessageRate(s.cfg.UpgradedMessageRate)
			s.logger.Info("gateway message rate upgraded",
				"gateway", deviceID, "firmware", fw.Version, "rate", s.cfg.UpgradedMessageRate)
		}
	}
}

// OnMessage receives frames from the site's gateways and republishes them.
func (s *Site) OnMessage(msg *protocol.Message, source string, t transport.Transport) {
	s.Inspect(msg)
	s.observers.Notify(msg, source, t)
}

// AddListener registers l for frames received from any gateway of the site.
func (s *Site) AddListener(l transport.Listener) func() {
	return s.observers.Add(l)
}

// Write queues a copy of msg on every gateway of the site.
func (s *Site) Write(ctx context.Context, msg *protocol.Message) error {
	gateways := s.Gateways()
	if len(gateways) == 0 {
		s.logger.Debug("site has no gateways, dropping message", "site", s.id, "type", msg.Type)
		return nil
	}

	var errs []error
	for _, gw := range gateways {
		if err := gw.Write(ctx, msg.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush waits for every gateway's queue to drain.
func (s *Site) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, gw := range s.Gateways() {
		g.Go(func() error { return gw.Flush(ctx) })
	}
	return g.Wait()
}

// Gateways returns the site's gateways ordered by id.
func (s *Site) Gateways() []*GatewayConnection {
	s.mu.RLock()
	out := make([]*GatewayConnection, 0, len(s.gateways))
	for _, gw := range s.gateways {
		out = append(out, gw)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Abandoned reports whether the site has had no gateway for longer than one
// sweep interval.
func (s *Site) Abandoned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gateways) == 0 && time.Since(s.created) > s.cfg.StaleSweepInterval
}

// MessageRate returns the slowest gateway rate, which bounds how fast the
// site as a whole accepts writes.
func (s *Site) MessageRate() float64 {
	rate := 0.0
	for _, gw := range s.Gateways() {
		if r := gw.MessageRate(); rate == 0 || r < rate {
			rate = r
		}
	}
	if rate == 0 {
		return s.cfg.Gateway.MessageRate
	}
	return rate
}

func (s *Site) scanLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.ScanDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		s.scanLights()
		timer.Reset(s.cfg.ScanInterval)
	}
}

func (s *Site) scanLights() {
	path, err := protocol.NewTagPath(s.id, nil)
	if err != nil {
		s.logger.Error("cannot address site", "site", s.id, "error", err)
		return
	}
	if err := s.Write(s.ctx, protocol.NewMessage(path, &protocol.LightGet{})); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("light scan failed", "site", s.id, "error", err)
	}
}

func (s *Site) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.removeStaleGateways()
		}
	}
}

func (s *Site) removeStaleGateways() {
	var stale []*GatewayConnection

	s.mu.Lock()
	for id, gw := range s.gateways {
		if gw.Stale() {
			stale = append(stale, gw)
			delete(s.gateways, id)
		}
	}
	s.mu.Unlock()

	for _, gw := range stale {
		s.logger.Info("dropping stale gateway", "site", s.id, "gateway", gw.ID())
		if err := gw.Close(); err != nil {
			s.logger.Warn("closing stale gateway failed", "gateway", gw.ID(), "error", err)
		}
	}
}

// Close stops the loops and closes every gateway.
func (s *Site) Close() error {
	s.mu.Lock()
	s.cancel()
	gateways := s.gateways
	s.gateways = make(map[string]*GatewayConnection)
	s.mu.Unlock()

	s.wg.Wait()

	var errs []error
	for _, gw := range gateways {
		if err := gw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
