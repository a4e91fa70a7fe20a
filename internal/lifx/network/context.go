package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/lan"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// Context defaults.
const (
	// DefaultSweepInterval is how often stale routing entries are evicted.
	DefaultSweepInterval = 30 * time.Second

	// DefaultWaitTimeout bounds every request/response wait.
	DefaultWaitTimeout = 3 * time.Second

	// DefaultConditionInterval is the longest a wait sleeps between checks
	// when no frame arrives.
	DefaultConditionInterval = 100 * time.Millisecond

	// DefaultActionInterval is how often a wait repeats its request.
	DefaultActionInterval = 500 * time.Millisecond

	// DefaultSyncOffset separates the execution times of synced messages.
	DefaultSyncOffset = time.Millisecond

	// cacheTimeout bounds each cache load or save.
	cacheTimeout = 5 * time.Second
)

// Logger interface for optional logging.
type Logger = transport.Logger

// Dispatcher delivers messages to sites. *lan.Manager implements it.
type Dispatcher interface {
	Write(ctx context.Context, msg *protocol.Message) error
	Flush(ctx context.Context) error
	Discover()
	AddListener(l transport.Listener) func()
	MessageRate() float64
	Close() error
}

var _ Dispatcher = (*lan.Manager)(nil)

// Config configures a Context.
type Config struct {
	// StaleThreshold is how long a silent device stays routable.
	// Default: 5m.
	StaleThreshold time.Duration

	// SweepInterval is the period of the stale-entry sweep. Default: 30s.
	SweepInterval time.Duration

	WaitTimeout       time.Duration
	ConditionInterval time.Duration
	ActionInterval    time.Duration
	SyncOffset        time.Duration

	// Store persists the routing tables. Optional.
	Store routing.Store

	Logger Logger
}

func (c *Config) applyDefaults() {
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = routing.DefaultStaleThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.ConditionInterval <= 0 {
		c.ConditionInterval = DefaultConditionInterval
	}
	if c.ActionInterval <= 0 {
		c.ActionInterval = DefaultActionInterval
	}
	if c.SyncOffset <= 0 {
		c.SyncOffset = DefaultSyncOffset
	}
	if c.Logger == nil {
		c.Logger = transport.NopLogger{}
	}
}

// SendOptions adjusts how a message is framed.
type SendOptions struct {
	// Acknowledge asks the device to confirm receipt.
	Acknowledge bool
}

// Sender sends a payload to a target.
type Sender interface {
	Send(ctx context.Context, target routing.Target, payload protocol.Payload, opts SendOptions) error
}

// Context resolves targets, dispatches messages and keeps the routing
// tables current from inbound frames.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Independent Syncs may run concurrently; each holds only the sends
//     made through its own scope.
type Context struct {
	cfg        Config
	logger     Logger
	dispatcher Dispatcher
	routing    *routing.Manager
	tags       *TagManager
	observers  *transport.Observers

	removeListener func()

	signalMu sync.Mutex
	signal   chan struct{}

	labelsMu      sync.Mutex
	pendingLabels map[string]uint64

	closeMu   sync.RWMutex
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Ensure Context implements Sender.
var _ Sender = (*Context)(nil)

// New builds a context on d. The context owns d: Close closes it.
//
// The routing tables are warmed from cfg.Store when one is set.
func New(d Dispatcher, cfg Config) *Context {
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		cfg:           cfg,
		logger:        cfg.Logger,
		dispatcher:    d,
		routing:       routing.NewManager(cfg.Logger),
		observers:     transport.NewObservers(cfg.Logger),
		signal:        make(chan struct{}),
		pendingLabels: make(map[string]uint64),
		ctx:           ctx,
		cancel:        cancel,
	}
	c.tags = &TagManager{c: c}

	if cfg.Store != nil {
		loadCtx, cancelLoad := context.WithTimeout(ctx, cacheTimeout)
		c.routing.LoadCache(loadCtx, cfg.Store)
		cancelLoad()
	}

	c.removeListener = d.AddListener(transport.ListenerFunc(c.handleMessage))

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Open starts a LAN manager with lanCfg and builds a context on it.
func Open(ctx context.Context, lanCfg lan.Config, cfg Config) (*Context, error) {
	if lanCfg.Logger == nil && cfg.Logger != nil {
		lanCfg.Logger = cfg.Logger
	}
	m, err := lan.New(ctx, lanCfg)
	if err != nil {
		return nil, fmt.Errorf("starting lan manager: %w", err)
	}
	return New(m, cfg), nil
}

// GatewayStats returns the dispatcher's per-gateway counters, or nil when
// the dispatcher does not keep any.
func (c *Context) GatewayStats() []lan.GatewayStats {
	if sp, ok := c.dispatcher.(interface{ GatewayStats() []lan.GatewayStats }); ok {
		return sp.GatewayStats()
	}
	return nil
}

// Routing returns the routing manager.
func (c *Context) Routing() *routing.Manager {
	return c.routing
}

// Tags returns the tag manager.
func (c *Context) Tags() *TagManager {
	return c.tags
}

// AddListener registers l for every inbound frame, after the routing
// tables have been updated from it.
func (c *Context) AddListener(l transport.Listener) func() {
	return c.observers.Add(l)
}

// Discover starts gateway discovery.
func (c *Context) Discover() {
	c.dispatcher.Discover()
}

// Flush waits until every gateway queue has drained.
func (c *Context) Flush(ctx context.Context) error {
	return c.dispatcher.Flush(ctx)
}

// MessageRate returns the slowest gateway rate in messages per second.
func (c *Context) MessageRate() float64 {
	return c.dispatcher.MessageRate()
}

// Send resolves target and dispatches one message per resulting path.
//
// Returns:
//   - error: Resolution errors from routing, pack errors from protocol
//     (the message is encoded once before dispatch), or the dispatch error
//     when no path could be written
//
// Inside a Sync function, a Send with the ctx handed to that function is
// held back by the sync scope like a send through its Sender.
func (c *Context) Send(ctx context.Context, target routing.Target, payload protocol.Payload, opts SendOptions) error {
	if scope := scopeFrom(ctx); scope != nil && scope.c == c {
		return scope.Send(ctx, target, payload, opts)
	}
	return c.sendNow(ctx, target, payload, opts)
}

// sendNow bypasses any sync scope. Request/response round trips use it so
// a wait inside a Sync function is not starved of its own request.
func (c *Context) sendNow(ctx context.Context, target routing.Target, payload protocol.Payload, opts SendOptions) error {
	msgs, err := c.build(target, payload, opts)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, msgs)
}

func (c *Context) build(target routing.Target, payload protocol.Payload, opts SendOptions) ([]*protocol.Message, error) {
	paths, err := c.routing.ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	msgs := make([]*protocol.Message, 0, len(paths))
	for _, p := range paths {
		msg := protocol.NewMessage(p, payload)
		msg.Acknowledge = opts.Acknowledge
		if _, err := msg.Encode(); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// dispatch writes msgs. A device fanned out over several sites is usually
// only reachable on one of them, so the call fails only when nothing was
// written.
func (c *Context) dispatch(ctx context.Context, msgs []*protocol.Message) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	var errs []error
	for _, msg := range msgs {
		if err := c.dispatcher.Write(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	if len(errs) == len(msgs) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		c.logger.Debug("path not written", "error", err)
	}
	return nil
}

// Sync runs fn with a Sender that holds messages back, then schedules all
// of them to execute at one instant on the devices' clocks.
//
// fn receives a ctx that marks the sync scope: calling Sync with it is
// nesting and fails, and Context.Send with it is held like s.Send. Syncs
// started from unrelated contexts run independently.
//
// The execution time is a sampled device clock plus the time the slowest
// gateway needs to send every held message; the n-th message is offset by
// n*SyncOffset.
//
// Returns:
//   - time.Duration: How far in the future the messages execute; zero when
//     fn sent nothing
//   - error: ErrNestedSync, fn's error (nothing is sent), ErrNoClockSource,
//     a *MessageTimeoutError when the clock sample fails, or a flush error
func (c *Context) Sync(ctx context.Context, fn func(ctx context.Context, s Sender) error) (time.Duration, error) {
	if scopeFrom(ctx) != nil {
		return 0, ErrNestedSync
	}

	scope := &syncScope{c: c}
	err := fn(context.WithValue(ctx, syncScopeKey{}, scope), scope)
	msgs := scope.end()
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	now, err := c.sampleClock(ctx)
	if err != nil {
		return 0, err
	}

	delay := time.Duration(float64(time.Second) * float64(len(msgs)+1) / c.dispatcher.MessageRate())
	at := now + uint64(delay)
	for i, msg := range msgs {
		msg.AtTime = at + uint64(i)*uint64(c.cfg.SyncOffset)
	}

	if err := c.dispatch(ctx, msgs); err != nil {
		return 0, err
	}
	if err := c.dispatcher.Flush(ctx); err != nil {
		return delay, err
	}

	c.logger.Debug("sync dispatched", "messages", len(msgs), "delay", delay)
	return delay, nil
}

type syncScopeKey struct{}

func scopeFrom(ctx context.Context) *syncScope {
	scope, _ := ctx.Value(syncScopeKey{}).(*syncScope)
	return scope
}

// syncScope collects messages while a Sync function runs. Once the
// function returns, sends go straight through.
type syncScope struct {
	c *Context

	mu    sync.Mutex
	msgs  []*protocol.Message
	ended bool
}

func (s *syncScope) Send(ctx context.Context, target routing.Target, payload protocol.Payload, opts SendOptions) error {
	msgs, err := s.c.build(target, payload, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.ended {
		s.msgs = append(s.msgs, msgs...)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.c.dispatch(ctx, msgs)
}

func (s *syncScope) end() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return s.msgs
}

// sampleClock asks a random known device for its time.
func (c *Context) sampleClock(ctx context.Context) (uint64, error) {
	entries := c.routing.Table().Entries()
	if len(entries) == 0 {
		return 0, ErrNoClockSource
	}
	e := entries[rand.IntN(len(entries))]

	target := routing.Target{DeviceID: e.DeviceID, SiteID: e.SiteID}
	reply, err := c.request(ctx, target, &protocol.GetTime{}, protocol.TypeStateTime, "get time")
	if err != nil {
		return 0, err
	}
	st, ok := reply.Payload.(*protocol.StateTime)
	if !ok {
		return 0, fmt.Errorf("unexpected reply %T to get time", reply.Payload)
	}
	return st.Time, nil
}

// request sends payload to one device until a reply of replyType from that
// device arrives.
func (c *Context) request(ctx context.Context, target routing.Target, payload protocol.Payload, replyType uint16, op string) (*protocol.Message, error) {
	replies := make(chan *protocol.Message, 1)
	remove := c.observers.Add(transport.ListenerFunc(func(msg *protocol.Message, _ string, _ transport.Transport) {
		if msg.Payload == nil || msg.Payload.TypeID() != replyType {
			return
		}
		if id, ok := msg.DeviceID(); !ok || id != target.DeviceID {
			return
		}
		select {
		case replies <- msg:
		default:
		}
	}))
	defer remove()

	var reply *protocol.Message
	err := c.tryUntil(ctx, target.DeviceID, op,
		func() bool {
			select {
			case reply = <-replies:
				return true
			default:
				return false
			}
		},
		func(ctx context.Context) {
			if err := c.sendNow(ctx, target, payload, SendOptions{}); err != nil {
				c.logger.Debug("request not sent", "op", op, "device", target.DeviceID, "error", err)
			}
		})
	return reply, err
}

// tryUntil runs action every ActionInterval until cond holds. cond is
// re-checked whenever a frame arrives and at least every
// ConditionInterval.
//
// Returns:
//   - error: *MessageTimeoutError after WaitTimeout, ctx.Err() if ctx ends
//     first, or ErrClosed
func (c *Context) tryUntil(ctx context.Context, deviceID, op string, cond func() bool, action func(context.Context)) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.WaitTimeout)
	defer cancel()

	poll := time.NewTicker(c.cfg.ConditionInterval)
	defer poll.Stop()

	var lastAction time.Time
	for {
		changed := c.changed()
		if cond() {
			return nil
		}
		if time.Since(lastAction) >= c.cfg.ActionInterval {
			lastAction = time.Now()
			action(waitCtx)
			continue
		}

		select {
		case <-changed:
		case <-poll.C:
		case <-c.ctx.Done():
			return ErrClosed
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return &MessageTimeoutError{DeviceID: deviceID, Op: op}
		}
	}
}

// changed returns a channel closed by the next inbound frame.
func (c *Context) changed() <-chan struct{} {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()
	return c.signal
}

func (c *Context) wake() {
	c.signalMu.Lock()
	close(c.signal)
	c.signal = make(chan struct{})
	c.signalMu.Unlock()
}

func (c *Context) handleMessage(msg *protocol.Message, source string, t transport.Transport) {
	if missing := c.routing.UpdateFromMessage(msg, time.Now()); missing != 0 {
		c.requestTagLabels(msg.SiteID(), missing)
	}
	c.observers.Notify(msg, source, t)
	c.wake()
}

// requestTagLabels asks siteID for the labels of the tags in missing that
// are not already being asked for.
func (c *Context) requestTagLabels(siteID string, missing uint64) {
	c.labelsMu.Lock()
	missing &^= c.pendingLabels[siteID]
	c.pendingLabels[siteID] |= missing
	c.labelsMu.Unlock()
	if missing == 0 {
		return
	}

	c.goAsync(func() {
		defer func() {
			c.labelsMu.Lock()
			pending := c.pendingLabels[siteID] &^ missing
			if pending == 0 {
				delete(c.pendingLabels, siteID)
			} else {
				c.pendingLabels[siteID] = pending
			}
			c.labelsMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WaitTimeout)
		defer cancel()
		err := c.sendNow(ctx, routing.SiteTarget(siteID), &protocol.GetTagLabels{Tags: missing}, SendOptions{})
		if err != nil {
			c.logger.Debug("tag label request failed", "site", siteID, "tags", missing, "error", err)
		}
	})
}

// goAsync runs fn on a goroutine joined by Close. It does nothing once the
// context is closing.
func (c *Context) goAsync(fn func()) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Context) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.routing.ClearStaleEntries(c.cfg.StaleThreshold)
			c.saveCache()
		}
	}
}

func (c *Context) saveCache() {
	if c.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	c.routing.SaveCache(ctx, c.cfg.Store)
}

// Close stops the sweep, saves the cache and closes the dispatcher.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.removeListener()

		c.closeMu.Lock()
		c.cancel()
		c.closeMu.Unlock()

		c.wg.Wait()
		c.saveCache()
		err = c.dispatcher.Close()
	})
	return err
}
