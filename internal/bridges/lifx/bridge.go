package lifx

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

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
	// defaultCommandTimeout bounds one command, including tag round trips.
	defaultCommandTimeout = 5 * time.Second

	// defaultMetricsInterval is the gateway telemetry period.
	defaultMetricsInterval = time.Minute

	// commandWorkerCount is the number of goroutines executing commands.
	// A target always maps to the same worker, so commands for one target
	// run in arrival order.
	commandWorkerCount = 4

	// commandQueueSize is the per-worker backlog. Commands arriving at a
	// full queue are rejected with BRIDGE_BUSY.
	commandQueueSize = 100

	// stateBuffer holds light state reports between the network's read
	// goroutines and the publisher.
	stateBuffer = 64
)

// Logger is the structured logger the bridge writes to.
// *logging.Logger implements it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations. *mqtt.Client
// implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Network sends to lights and reports what it hears. *network.Context
// implements it.
type Network interface {
	Send(ctx context.Context, target routing.Target, payload protocol.Payload, opts network.SendOptions) error
	Sync(ctx context.Context, fn func(ctx context.Context, s network.Sender) error) (time.Duration, error)
	AddListener(l transport.Listener) func()
	GatewayStats() []lan.GatewayStats
	Routing() *routing.Manager
}

// Tagger edits tag membership. *network.TagManager implements it.
type Tagger interface {
	AddTagToDevice(ctx context.Context, label, deviceID string) error
	RemoveTagFromDevice(ctx context.Context, label, deviceID string) error
	PurgeUnusedTags(ctx context.Context) ([]string, error)
}

// MetricsWriter records telemetry. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteLight(s influxdb.LightSample)
	WriteGateway(s influxdb.GatewaySample)
}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	Config  config.BridgeConfig
	Version string

	MQTTClient MQTTClient
	Network    Network

	// Tagger is optional. Without it tag commands fail.
	Tagger Tagger

	// Metrics is optional. Without it no telemetry is written.
	Metrics MetricsWriter

	Logger Logger
}

// Bridge translates between Gray Logic's MQTT topics and the LIFX network:
//   - Commands on graylogic/command/lifx/{target} become LIFX messages
//   - Light state reports become retained state messages
//   - Health and gateway telemetry are published periodically
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     config.BridgeConfig
	mqtt    MQTTClient
	network Network
	tagger  Tagger
	metrics MetricsWriter
	health  *HealthReporter
	topics  mqtt.Topics

	states         chan observation
	removeListener func()

	// Commands are queued here so slow commands never block the MQTT
	// client's delivery goroutine.
	commandQueues [commandWorkerCount]chan commandJob

	// State cache for change detection and colour defaults
	stateCache   map[string]lightSnapshot
	stateCacheMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// observation is one LightState report.
type observation struct {
	deviceID string
	siteID   string
	state    protocol.LightState
	at       time.Time
}

// commandJob is one decoded command awaiting a worker.
type commandJob struct {
	target string
	cmd    CommandMessage
}

// lightSnapshot is the comparable part of a published state.
type lightSnapshot struct {
	power uint16
	color protocol.Hsbk
	label string
	tags  string
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("LIFX network is required")
	}
	if opts.Config.ID == "" {
		opts.Config.ID = ProtocolName
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		network:    opts.Network,
		tagger:     opts.Tagger,
		metrics:    opts.Metrics,
		states:     make(chan observation, stateBuffer),
		stateCache: make(map[string]lightSnapshot),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	for i := range b.commandQueues {
		b.commandQueues[i] = make(chan commandJob, commandQueueSize)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.ID,
		Version:   opts.Version,
		Interval:  opts.Config.HealthInterval,
		Publisher: opts.MQTTClient,
		Gateways:  opts.Network,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter, whose LWT must be
// registered when connecting to the broker.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start listens for light state, subscribes to commands and starts health
// reporting and telemetry.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.removeListener = b.network.AddListener(transport.ListenerFunc(b.handleNetworkMessage))

	b.wg.Add(1)
	go b.stateLoop()

	for _, queue := range b.commandQueues {
		b.wg.Add(1)
		go b.commandWorker(queue)
	}

	if b.metrics != nil {
		b.wg.Add(1)
		go b.metricsLoop()
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.cfg.ID)
	return nil
}

// Stop shuts the bridge down. In-flight commands are cancelled and
// queued ones are dropped. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		if b.removeListener != nil {
			b.removeListener()
		}

		// Publishes "stopping"
		b.health.Stop()

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage runs on the MQTT client's goroutine. It decodes the
// command and queues it for a worker.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	target, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"target", target,
		"command", cmd.Command)

	b.enqueueCommand(commandJob{target: target, cmd: cmd})
	return nil
}

// enqueueCommand hands job to its target's worker without blocking.
func (b *Bridge) enqueueCommand(job commandJob) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queueFor(job.target) <- job:
	default:
		b.publishAckError(job.cmd, job.target, ErrCodeBridgeBusy, "command queue full")
	}
}

// queueFor picks the worker queue for a target.
func (b *Bridge) queueFor(target string) chan commandJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(target))
	return b.commandQueues[h.Sum32()%commandWorkerCount]
}

// commandWorker executes queued commands until Stop. Whatever is still
// queued at Stop is discarded.
func (b *Bridge) commandWorker(queue <-chan commandJob) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			for {
				select {
				case job := <-queue:
					b.logDebug("command dropped at shutdown", "command_id", job.cmd.ID, "target", job.target)
				default:
					return
				}
			}
		case job := <-queue:
			b.runCommand(job)
		}
	}
}

// runCommand executes one command with panic recovery.
func (b *Bridge) runCommand(job commandJob) {
	defer func() {
		if r := recover(); r != nil {
			b.publishAckError(job.cmd, job.target, ErrCodeProtocolError, "internal error")
			b.logError("command panicked", fmt.Errorf("%v", r))
		}
	}()
	b.handleCommand(job.target, job.cmd)
}

// handleCommand executes one command and acknowledges it on the target's
// ack topic.
func (b *Bridge) handleCommand(rawTarget string, cmd CommandMessage) {
	target, err := ParseTarget(rawTarget)
	if err != nil {
		b.publishAckError(cmd, rawTarget, ErrCodeInvalidTarget, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout())
	defer cancel()

	result, err := b.executeCommand(ctx, cmd, target)
	if err != nil {
		b.publishAckError(cmd, rawTarget, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, rawTarget, result)
}

// ParseTarget converts a command topic's target segment into a routing
// target: "all", "tag:<label>" or a 12-digit hex device id.
func ParseTarget(s string) (routing.Target, error) {
	switch {
	case s == "all":
		return routing.BroadcastTarget(), nil
	case strings.HasPrefix(s, "tag:"):
		label := strings.TrimPrefix(s, "tag:")
		if label == "" {
			return routing.Target{}, fmt.Errorf("%w: empty tag", routing.ErrInvalidTarget)
		}
		if len(label) > protocol.LabelSize {
			return routing.Target{}, fmt.Errorf("%w: tag %q longer than %d bytes", routing.ErrInvalidTarget, label, protocol.LabelSize)
		}
		return routing.TagTarget(label), nil
	default:
		id := strings.ToLower(s)
		if !isDeviceID(id) {
			return routing.Target{}, fmt.Errorf("%w: %q is not a device id", routing.ErrInvalidTarget, s)
		}
		return routing.DeviceTarget(id), nil
	}
}

func isDeviceID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (b *Bridge) publishAck(cmd CommandMessage, target string, result map[string]any) {
	ack := NewAckMessage(cmd, target, AckAccepted)
	ack.Result = result
	b.publishJSON(b.topics.Ack(target), ack, false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, target, code, message string) {
	b.publishJSON(b.topics.Ack(target), NewAckError(cmd, target, code, message), false)
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"target", target,
		"code", code,
		"error", message)
}

// publishJSON publishes v at QoS 1.
func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", err)
	}
}

// handleNetworkMessage runs on network goroutines, so it only queues
// light state reports.
func (b *Bridge) handleNetworkMessage(msg *protocol.Message, _ string, _ transport.Transport) {
	state, ok := msg.Payload.(*protocol.LightState)
	if !ok {
		return
	}
	deviceID, ok := msg.DeviceID()
	if !ok {
		return
	}

	obs := observation{deviceID: deviceID, siteID: msg.SiteID(), state: *state, at: time.Now()}
	select {
	case b.states <- obs:
	case <-b.done:
	default:
		b.logDebug("light state dropped", "device", deviceID)
	}
}

func (b *Bridge) stateLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case obs := <-b.states:
			b.handleLightState(obs)
		}
	}
}

// handleLightState publishes a light's state when it changed, announces
// lights seen for the first time and records telemetry.
func (b *Bridge) handleLightState(obs observation) {
	tags := b.network.Routing().TagsForDevice(obs.deviceID)
	view := lightView(obs.state, tags)
	snap := lightSnapshot{
		power: obs.state.Power,
		color: obs.state.Color,
		label: view.Label,
		tags:  strings.Join(tags, "\x00"),
	}

	b.stateCacheMu.Lock()
	prev, seen := b.stateCache[obs.deviceID]
	b.stateCache[obs.deviceID] = snap
	known := len(b.stateCache)
	b.stateCacheMu.Unlock()

	if b.metrics != nil {
		b.metrics.WriteLight(influxdb.LightSample{
			DeviceID:   obs.deviceID,
			SiteID:     obs.siteID,
			Label:      view.Label,
			Hue:        view.Hue,
			Saturation: view.Saturation,
			Brightness: view.Brightness,
			Kelvin:     view.Kelvin,
			On:         view.On,
			Time:       obs.at,
		})
	}

	if !seen {
		b.health.SetDeviceCount(known)
		b.publishJSON(b.topics.Discovery(), DiscoveryMessage{
			Timestamp: time.Now().UTC(),
			Bridge:    b.cfg.ID,
			Devices: []DiscoveredDevice{{
				Protocol:      ProtocolName,
				Address:       obs.deviceID,
				SiteID:        obs.siteID,
				Type:          "light",
				Capabilities:  lightCapabilities,
				SuggestedName: view.Label,
			}},
		}, false)
		b.logInfo("light discovered", "device", obs.deviceID, "site", obs.siteID, "label", view.Label)
	}

	if seen && prev == snap {
		return
	}
	b.publishJSON(b.topics.State(obs.deviceID), NewStateMessage(obs.deviceID, obs.siteID, view), true)
}

// lastColor returns the colour deviceID last reported.
func (b *Bridge) lastColor(deviceID string) (protocol.Hsbk, bool) {
	b.stateCacheMu.RLock()
	defer b.stateCacheMu.RUnlock()
	snap, ok := b.stateCache[deviceID]
	return snap.color, ok
}

// ClearStateCache forgets every light, so the next report of each is
// republished and announced again.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string]lightSnapshot)
	b.stateCacheMu.Unlock()
	b.health.SetDeviceCount(0)
}

func (b *Bridge) metricsLoop() {
	defer b.wg.Done()

	interval := b.cfg.MetricsInterval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case now := <-ticker.C:
			b.writeGatewayMetrics(now)
		}
	}
}

func (b *Bridge) writeGatewayMetrics(now time.Time) {
	for _, g := range b.network.GatewayStats() {
		b.metrics.WriteGateway(influxdb.GatewaySample{
			GatewayID:   g.ID,
			SiteID:      g.SiteID,
			IP:          g.IP,
			Sent:        g.Sent,
			Failed:      g.Failed,
			Queued:      g.Queued,
			MessageRate: g.MessageRate,
			TCP:         g.TCPConnected,
			Time:        now,
		})
	}
}

func (b *Bridge) commandTimeout() time.Duration {
	if b.cfg.CommandTimeout > 0 {
		return b.cfg.CommandTimeout
	}
	return defaultCommandTimeout
}

// lightView converts a state report to user units.
func lightView(s protocol.LightState, tags []string) LightView {
	if tags == nil {
		tags = []string{}
	}
	return LightView{
		On:         s.Power > 0,
		Power:      s.Power,
		Hue:        round2(hueFromWire(s.Color.Hue)),
		Saturation: round2(fractionFromWire(s.Color.Saturation)),
		Brightness: round2(fractionFromWire(s.Color.Brightness)),
		Kelvin:     s.Color.Kelvin,
		Label:      s.Label.String(),
		Tags:       tags,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics summarises the bridge for status reporting.
type BridgeMetrics struct {
	MQTTConnected bool
	Gateways      int
	Devices       int
	MessagesSent  uint64
	MessagesFail  uint64
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.stateCacheMu.RLock()
	devices := len(b.stateCache)
	b.stateCacheMu.RUnlock()

	m := BridgeMetrics{
		MQTTConnected: b.mqtt.IsConnected(),
		Devices:       devices,
	}
	for _, g := range b.network.GatewayStats() {
		m.Gateways++
		m.MessagesSent += g.Sent
		m.MessagesFail += g.Failed
	}
	return m
}
