package lifx

import (
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/lan"
)

// MQTT message types exchanged between Gray Logic Core and the LIFX bridge.

// ProtocolName identifies LIFX in every message the bridge publishes.
const ProtocolName = "lifx"

// CommandMessage is sent from Core to the bridge to drive lights.
// Topic: graylogic/command/lifx/{target}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. The bridge
	// generates one when Core leaves it empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier, echoed in the ack.
	DeviceID string `json:"device_id,omitempty"`

	// Command is the command name (e.g., "on", "set_color", "add_tag").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"hue": 120, "saturation": 1, "brightness": 0.5, "duration_ms": 500} for set_color
	//   {"tag": "Kitchen"} for add_tag
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was handed to the network.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates a device did not confirm within the wait timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core for every command.
// Topic: graylogic/ack/lifx/{target}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Target is the command topic's target segment.
	Target string `json:"target"`

	// Result carries command output, such as the labels purge_tags cleared
	// or the execution delay of sync_color.
	Result map[string]any `json:"result,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeInvalidTarget     = "INVALID_TARGET"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeTagLimit          = "TAG_LIMIT_REACHED"
	ErrCodeBridgeBusy        = "BRIDGE_BUSY"
)

// StateMessage reports the last known state of one light.
// Topic: graylogic/state/lifx/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	State     LightView `json:"state"`
	Protocol  string    `json:"protocol"`

	// SiteID is the PAN the light was heard on.
	SiteID string `json:"site_id"`
}

// LightView is a light's state in user units.
type LightView struct {
	On         bool     `json:"on"`
	Power      uint16   `json:"power"`
	Hue        float64  `json:"hue"`
	Saturation float64  `json:"saturation"`
	Brightness float64  `json:"brightness"`
	Kelvin     uint16   `json:"kelvin"`
	Label      string   `json:"label"`
	Tags       []string `json:"tags"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/lifx
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Gateways lists every gateway connection the LAN manager holds.
	Gateways []GatewayStatus `json:"gateways,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	DevicesKnown int `json:"devices_known"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatus describes one gateway connection.
type GatewayStatus struct {
	ID          string  `json:"id"`
	SiteID      string  `json:"site_id"`
	IP          string  `json:"ip"`
	Transport   string  `json:"transport"`
	MessageRate float64 `json:"message_rate"`
	Queued      int     `json:"queued"`
}

// BridgeStatistics totals the gateway write counters.
type BridgeStatistics struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
}

// DiscoveryMessage announces a light the bridge has not seen before.
// Topic: graylogic/discovery/lifx
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a device found on the network.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	SiteID        string   `json:"site_id"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// lightCapabilities are the commands every LIFX bulb accepts.
var lightCapabilities = []string{"on_off", "dim", "colour", "colour_temperature", "waveform"}

// NewAckMessage creates an acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage, target string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  ProtocolName,
		Target:    target,
	}
}

// NewAckError creates a failed acknowledgement. A TIMEOUT code maps to
// the timeout status.
func NewAckError(cmd CommandMessage, target, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, target, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, siteID string, view LightView) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     view,
		Protocol:  ProtocolName,
		SiteID:    siteID,
	}
}

// NewHealthMessage creates a health status message from gateway snapshots.
func NewHealthMessage(bridgeID, version string, status HealthStatus, gateways []lan.GatewayStats, devices int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		DevicesKnown:  devices,
		Statistics:    &BridgeStatistics{},
	}

	for _, g := range gateways {
		msg.Gateways = append(msg.Gateways, GatewayStatus{
			ID:          g.ID,
			SiteID:      g.SiteID,
			IP:          g.IP,
			Transport:   transportName(g),
			MessageRate: g.MessageRate,
			Queued:      g.Queued,
		})
		msg.Statistics.MessagesSent += g.Sent
		msg.Statistics.MessagesFailed += g.Failed
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament message. The broker
// publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func transportName(g lan.GatewayStats) string {
	switch {
	case g.TCPConnected:
		return "tcp"
	case g.UDPConnected:
		return "udp"
	default:
		return "none"
	}
}
