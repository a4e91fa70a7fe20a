package lifx

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/lan"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/network"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

const (
	testSite   = "316c69667831"
	testDevice = "d073d5000001"
	testOther  = "d073d5000002"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published on topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateCommand delivers a command as if the broker routed it to the
// bridge and waits for the command's ack.
func (m *MockMQTTClient) SimulateCommand(t *testing.T, target string, cmd CommandMessage) {
	t.Helper()
	ackTopic := mqtt.Topics{}.Ack(target)
	before := len(m.PublishedTo(ackTopic))
	m.DeliverCommand(t, target, cmd)
	eventually(t, func() bool { return len(m.PublishedTo(ackTopic)) > before }, "ack for "+target)
}

// DeliverCommand hands a command to the subscription handler and returns
// without waiting for it to execute.
func (m *MockMQTTClient) DeliverCommand(t *testing.T, target string, cmd CommandMessage) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}

	topics := mqtt.Topics{}
	m.mu.Lock()
	handler, ok := m.handlers[topics.AllCommands()]
	m.mu.Unlock()
	if !ok {
		t.Fatal("no command subscription")
	}
	if err := handler(topics.Command(target), payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

// sentMessage is one Send call.
type sentMessage struct {
	Target  routing.Target
	Payload protocol.Payload
	Opts    network.SendOptions
}

// mockNetwork implements Network for testing.
type mockNetwork struct {
	mu        sync.Mutex
	sent      []sentMessage
	synced    [][]sentMessage
	sendErr   error
	syncErr   error
	syncDelay time.Duration
	gateways  []lan.GatewayStats

	routing   *routing.Manager
	observers *transport.Observers
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{
		routing:   routing.NewManager(nil),
		observers: transport.NewObservers(nil),
	}
}

func (n *mockNetwork) Send(_ context.Context, target routing.Target, payload protocol.Payload, opts network.SendOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, sentMessage{Target: target, Payload: payload, Opts: opts})
	return nil
}

func (n *mockNetwork) Sync(ctx context.Context, fn func(ctx context.Context, s network.Sender) error) (time.Duration, error) {
	scope := &recordingSender{}
	if err := fn(ctx, scope); err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.syncErr != nil {
		return 0, n.syncErr
	}
	n.synced = append(n.synced, scope.sent)
	return n.syncDelay, nil
}

func (n *mockNetwork) AddListener(l transport.Listener) func() {
	return n.observers.Add(l)
}

func (n *mockNetwork) GatewayStats() []lan.GatewayStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]lan.GatewayStats(nil), n.gateways...)
}

func (n *mockNetwork) Routing() *routing.Manager {
	return n.routing
}

func (n *mockNetwork) setGateways(g ...lan.GatewayStats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gateways = g
}

func (n *mockNetwork) setSendErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

func (n *mockNetwork) getSent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *mockNetwork) getSynced() [][]sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]sentMessage(nil), n.synced...)
}

// injectState delivers a LightState report from device as if heard on the LAN.
func (n *mockNetwork) injectState(t *testing.T, device string, state *protocol.LightState) {
	t.Helper()
	path, err := protocol.NewDevicePath(testSite, device)
	if err != nil {
		t.Fatalf("NewDevicePath() error = %v", err)
	}
	n.observers.Notify(protocol.NewMessage(path, state), "192.168.1.50", nil)
}

// recordingSender collects sends made inside a Sync function.
type recordingSender struct {
	sent []sentMessage
}

func (r *recordingSender) Send(_ context.Context, target routing.Target, payload protocol.Payload, opts network.SendOptions) error {
	r.sent = append(r.sent, sentMessage{Target: target, Payload: payload, Opts: opts})
	return nil
}

// mockTagger implements Tagger for testing.
type mockTagger struct {
	mu      sync.Mutex
	added   []string
	removed []string
	purged  []string
	err     error

	// block, when set, holds AddTagToDevice until closed.
	block chan struct{}
}

func (m *mockTagger) setBlock(block chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
}

func (m *mockTagger) AddTagToDevice(ctx context.Context, label, deviceID string) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.added = append(m.added, label+"@"+deviceID)
	return nil
}

func (m *mockTagger) RemoveTagFromDevice(_ context.Context, label, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, label+"@"+deviceID)
	return nil
}

func (m *mockTagger) PurgeUnusedTags(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purged, m.err
}

// mockMetrics implements MetricsWriter for testing.
type mockMetrics struct {
	mu       sync.Mutex
	lights   []influxdb.LightSample
	gateways []influxdb.GatewaySample
}

func (m *mockMetrics) WriteLight(s influxdb.LightSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lights = append(m.lights, s)
}

func (m *mockMetrics) WriteGateway(s influxdb.GatewaySample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways = append(m.gateways, s)
}

func (m *mockMetrics) lightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lights)
}

func (m *mockMetrics) gatewayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gateways)
}

type testBridge struct {
	bridge  *Bridge
	mqtt    *MockMQTTClient
	network *mockNetwork
	tagger  *mockTagger
	metrics *mockMetrics
}

// newTestBridge creates and starts a bridge wired to mocks.
func newTestBridge(t *testing.T, cfg config.BridgeConfig) *testBridge {
	t.Helper()
	tb := &testBridge{
		mqtt:    NewMockMQTTClient(),
		network: newMockNetwork(),
		tagger:  &mockTagger{},
		metrics: &mockMetrics{},
	}

	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		Version:    "test",
		MQTTClient: tb.mqtt,
		Network:    tb.network,
		Tagger:     tb.tagger,
		Metrics:    tb.metrics,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	tb.bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		b.Stop()
		cancel()
	})
	return tb
}

// seeLight puts device in the routing table on testSite.
func (tb *testBridge) seeLight(device string, tagIDs ...int) {
	if tagIDs == nil {
		tagIDs = []int{}
	}
	tb.network.routing.Table().Update(testSite, device, tagIDs, time.Now())
}

// lastAck decodes the last ack published for target.
func (tb *testBridge) lastAck(t *testing.T, target string) AckMessage {
	t.Helper()
	acks := tb.mqtt.PublishedTo(mqtt.Topics{}.Ack(target))
	if len(acks) == 0 {
		t.Fatalf("no ack published for %s", target)
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
