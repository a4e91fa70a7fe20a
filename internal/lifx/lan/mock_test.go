package lan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

// mockTransport records writes and lets tests inject inbound frames.
type mockTransport struct {
	mu         sync.Mutex
	name       string
	connected  bool
	failWrites bool
	// dropOnFail makes a failed write drop the transport, as UDP does.
	dropOnFail bool
	closed     bool
	written    []*protocol.Message
	writeTimes []time.Time
	observers  *transport.Observers
}

func newMockTransport(name string, connected bool) *mockTransport {
	return &mockTransport{name: name, connected: connected, observers: transport.NewObservers(nil)}
}

func (m *mockTransport) Write(msg *protocol.Message) bool {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return false
	}
	if m.failWrites {
		drop := m.dropOnFail
		m.mu.Unlock()
		if drop {
			m.drop()
		}
		return false
	}
	m.written = append(m.written, msg)
	m.writeTimes = append(m.writeTimes, time.Now())
	m.mu.Unlock()
	return true
}

func (m *mockTransport) AddListener(l transport.Listener) func() {
	return m.observers.Add(l)
}

func (m *mockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) Stats() transport.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return transport.Stats{FramesTx: uint64(len(m.written)), Connected: m.connected}
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) String() string { return m.name }

func (m *mockTransport) setFailWrites(v bool) {
	m.mu.Lock()
	m.failWrites = v
	m.mu.Unlock()
}

func (m *mockTransport) setDropOnFail(v bool) {
	m.mu.Lock()
	m.dropOnFail = v
	m.mu.Unlock()
}

// drop simulates the remote closing the connection.
func (m *mockTransport) drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.observers.NotifyDisconnect(m)
}

func (m *mockTransport) deliver(msg *protocol.Message, source string) {
	m.observers.Notify(msg, source, m)
}

func (m *mockTransport) messages() []*protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*protocol.Message(nil), m.written...)
}

func (m *mockTransport) messagesOfType(typeID uint16) []*protocol.Message {
	var out []*protocol.Message
	for _, msg := range m.messages() {
		if msg.Type == typeID {
			out = append(out, msg)
		}
	}
	return out
}

// fakeDialer hands out mock transports keyed by "host:port".
type fakeDialer struct {
	mu       sync.Mutex
	udp      map[string]*mockTransport
	tcp      map[string]*mockTransport
	tcpFail  bool
	tcpDials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{udp: make(map[string]*mockTransport), tcp: make(map[string]*mockTransport)}
}

func (d *fakeDialer) DialUDP(_ context.Context, cfg transport.UDPConfig) (transport.Transport, error) {
	key := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	t := newMockTransport("udp "+key, true)
	d.mu.Lock()
	d.udp[key] = t
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) DialTCP(_ context.Context, cfg transport.TCPConfig) transport.Transport {
	key := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tcpDials++
	t := newMockTransport("tcp "+key, !d.tcpFail)
	d.tcp[key] = t
	return t
}

func (d *fakeDialer) udpFor(t *testing.T, key string) *mockTransport {
	t.Helper()
	var m *mockTransport
	eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		m = d.udp[key]
		return m != nil
	})
	return m
}

func (d *fakeDialer) tcpFor(t *testing.T, key string) *mockTransport {
	t.Helper()
	var m *mockTransport
	eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		m = d.tcp[key]
		return m != nil
	})
	return m
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tcpDials
}

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const (
	testSite    = "316c69667831"
	testGateway = "d073d5000001"
)

func announcement(t *testing.T, site, device string, service uint8, port uint32) *protocol.Message {
	t.Helper()
	path, err := protocol.NewDevicePath(site, device)
	if err != nil {
		t.Fatalf("NewDevicePath() error = %v", err)
	}
	return protocol.NewMessage(path, &protocol.StatePanGateway{Service: service, Port: port})
}

func deviceMessage(t *testing.T, payload protocol.Payload) *protocol.Message {
	t.Helper()
	path, err := protocol.NewDevicePath(testSite, testGateway)
	if err != nil {
		t.Fatalf("NewDevicePath() error = %v", err)
	}
	return protocol.NewMessage(path, payload)
}
