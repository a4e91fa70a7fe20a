package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

const (
	testSite    = "316c69667831"
	testDevice  = "d073d5000001"
	otherDevice = "d073d5000002"
	testSource  = "192.168.1.50"
)

// fakeDispatcher records writes and lets simulated devices answer them.
type fakeDispatcher struct {
	mu        sync.Mutex
	written   []*protocol.Message
	writeErr  error
	rate      float64
	flushes   int
	discovers int
	closed    bool
	devices   map[string]*fakeDevice
	observers *transport.Observers
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		rate:      5,
		devices:   make(map[string]*fakeDevice),
		observers: transport.NewObservers(nil),
	}
}

func (d *fakeDispatcher) Write(_ context.Context, msg *protocol.Message) error {
	d.mu.Lock()
	if d.writeErr != nil {
		err := d.writeErr
		d.mu.Unlock()
		return err
	}
	d.written = append(d.written, msg)
	var replies []*protocol.Message
	for _, dev := range d.devices {
		replies = append(replies, dev.handle(msg)...)
	}
	d.mu.Unlock()

	for _, r := range replies {
		d.observers.Notify(r, testSource, nil)
	}
	return nil
}

func (d *fakeDispatcher) Flush(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
	return nil
}

func (d *fakeDispatcher) Discover() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discovers++
}

func (d *fakeDispatcher) AddListener(l transport.Listener) func() {
	return d.observers.Add(l)
}

func (d *fakeDispatcher) MessageRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

func (d *fakeDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDispatcher) addDevice(dev *fakeDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.id] = dev
}

func (d *fakeDispatcher) setWriteErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErr = err
}

// inject delivers msg as if it arrived from the network.
func (d *fakeDispatcher) inject(msg *protocol.Message) {
	d.observers.Notify(msg, testSource, nil)
}

// writesOfType returns written messages carrying payloads of typeID.
func (d *fakeDispatcher) writesOfType(typeID uint16) []*protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*protocol.Message
	for _, m := range d.written {
		if m.Payload != nil && m.Payload.TypeID() == typeID {
			out = append(out, m)
		}
	}
	return out
}

func (d *fakeDispatcher) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.written)
}

// fakeDevice answers time and tag requests addressed to it.
// Its fields are guarded by the dispatcher's mutex.
type fakeDevice struct {
	site   string
	id     string
	clock  uint64
	tags   uint64
	silent bool
}

func (f *fakeDevice) handle(msg *protocol.Message) []*protocol.Message {
	if f.silent || msg.SiteID() != f.site {
		return nil
	}

	if msg.Tagged() {
		if p, ok := msg.Payload.(*protocol.SetTagLabels); ok {
			return []*protocol.Message{f.reply(&protocol.StateTagLabels{Tags: p.Tags, Label: p.Label})}
		}
		return nil
	}
	if id, _ := msg.DeviceID(); id != f.id {
		return nil
	}

	switch p := msg.Payload.(type) {
	case *protocol.GetTime:
		return []*protocol.Message{f.reply(&protocol.StateTime{Time: f.clock})}
	case *protocol.GetTags:
		return []*protocol.Message{f.reply(&protocol.StateTags{Tags: f.tags})}
	case *protocol.SetTags:
		f.tags = p.Tags
		return []*protocol.Message{f.reply(&protocol.StateTags{Tags: f.tags})}
	}
	return nil
}

func (f *fakeDevice) reply(payload protocol.Payload) *protocol.Message {
	p, _ := protocol.NewDevicePath(f.site, f.id)
	return protocol.NewMessage(p, payload)
}

func stateFrom(t *testing.T, site, device string, payload protocol.Payload) *protocol.Message {
	t.Helper()
	p, err := protocol.NewDevicePath(site, device)
	if err != nil {
		t.Fatalf("NewDevicePath() error = %v", err)
	}
	return protocol.NewMessage(p, payload)
}

func fastConfig() Config {
	return Config{
		WaitTimeout:       300 * time.Millisecond,
		ConditionInterval: 10 * time.Millisecond,
		ActionInterval:    50 * time.Millisecond,
	}
}

func newTestContext(t *testing.T, cfg Config) (*Context, *fakeDispatcher) {
	t.Helper()
	d := newFakeDispatcher()
	c := New(d, cfg)
	t.Cleanup(func() { c.Close() })
	return c, d
}

// seeDevice makes the context learn a device through a light state report.
func seeDevice(t *testing.T, d *fakeDispatcher, site, device string, tags uint64) {
	t.Helper()
	d.inject(stateFrom(t, site, device, &protocol.LightState{Tags: tags}))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// memoryStore is an in-memory routing.Store.
type memoryStore struct {
	mu      sync.Mutex
	entries []routing.Entry
	tags    []routing.TagEntry
	saves   int
}

func (s *memoryStore) Load(context.Context) ([]routing.Entry, []routing.TagEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, s.tags, nil
}

func (s *memoryStore) Save(_ context.Context, entries []routing.Entry, tags []routing.TagEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries, s.tags = entries, tags
	s.saves++
	return nil
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
