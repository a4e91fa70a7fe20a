package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Listener receives every frame a transport decodes.
type Listener interface {
	OnMessage(msg *protocol.Message, source string, t Transport)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(msg *protocol.Message, source string, t Transport)

// OnMessage calls f.
func (f ListenerFunc) OnMessage(msg *protocol.Message, source string, t Transport) {
	f(msg, source, t)
}

// DisconnectListener is optionally implemented by listeners that want to
// know when a connection-oriented transport drops.
type DisconnectListener interface {
	OnDisconnect(t Transport)
}

// Transport is a socket that frames LIFX messages.
type Transport interface {
	// Write encodes msg and hands it to the OS. It returns false if the
	// message could not be encoded or the socket rejected it.
	Write(msg *protocol.Message) bool

	// AddListener registers l and returns a function that removes it.
	AddListener(l Listener) (remove func())

	// Connected reports whether the socket is usable.
	Connected() bool

	// Stats returns a snapshot of traffic counters.
	Stats() Stats

	// Close releases the socket and joins the listener goroutine.
	Close() error

	String() string
}

// Stats holds traffic counters for one transport.
type Stats struct {
	FramesRx     uint64
	FramesTx     uint64
	DecodeErrors uint64
	WriteErrors  uint64
	LastActivity time.Time
	Connected    bool
}

// counters is embedded by transports to share Stats bookkeeping.
type counters struct {
	framesRx     atomic.Uint64
	framesTx     atomic.Uint64
	decodeErrors atomic.Uint64
	writeErrors  atomic.Uint64
	lastActivity atomic.Int64
}

func (c *counters) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) snapshot(connected bool) Stats {
	s := Stats{
		FramesRx:     c.framesRx.Load(),
		FramesTx:     c.framesTx.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		WriteErrors:  c.writeErrors.Load(),
		Connected:    connected,
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Observers is a concurrency-safe listener set.
//
// Thread Safety:
//   - Add, remove and Notify may be called from any goroutine.
//   - Listeners run on the notifying goroutine; a panicking listener is
//     recovered and logged so one bad subscriber cannot stop a read loop.
type Observers struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	logger    Logger
}

// NewObservers creates an empty set. A nil logger discards panic reports.
func NewObservers(logger Logger) *Observers {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Observers{listeners: make(map[int]Listener), logger: logger}
}

// Add registers l and returns its removal function.
func (o *Observers) Add(l Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Len returns the number of registered listeners.
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}

func (o *Observers) snapshot() []Listener {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		out = append(out, l)
	}
	return out
}

// Notify delivers a frame to every listener.
func (o *Observers) Notify(msg *protocol.Message, source string, t Transport) {
	for _, l := range o.snapshot() {
		o.safely(func() { l.OnMessage(msg, source, t) })
	}
}

// NotifyDisconnect tells every DisconnectListener that t dropped.
func (o *Observers) NotifyDisconnect(t Transport) {
	for _, l := range o.snapshot() {
		if dl, ok := l.(DisconnectListener); ok {
			o.safely(func() { dl.OnDisconnect(t) })
		}
	}
}

func (o *Observers) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panic", "error", fmt.Errorf("%v", r))
		}
	}()
	fn()
}
