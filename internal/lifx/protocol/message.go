package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants.
const (
	// Version is the only protocol version this package speaks.
	Version uint16 = 1024

	// HeaderSize is the length of header, address and metadata together.
	HeaderSize = 36

	// DefaultPort is the UDP port gateways listen on for discovery.
	DefaultPort = 56700

	// PeerPort is the UDP port clients use to observe each other's traffic.
	PeerPort = 56750
)

// Bit layout of the protocol word and the acknowledge word.
const (
	protocolMask    = 0x0FFF
	addressableFlag = 1 << 12
	taggedFlag      = 1 << 13
	acknowledgeFlag = 1 << 0
)

// Byte offsets within the header.
const (
	offSize     = 0
	offProtocol = 2
	offTarget   = 8
	offSite     = offTarget + TargetSize
	offAck      = offSite + SiteSize
	offAtTime   = 24
	offType     = 32
)

// Message is one framed LAN protocol message.
type Message struct {
	// Size is the total frame length. Encode recomputes it.
	Size uint16

	// Protocol is the version field. Encode always writes Version.
	Protocol uint16

	Addressable bool

	// Path is the resolved address. A nil path cannot be encoded.
	Path *ProtocolPath

	Acknowledge bool

	// AtTime schedules execution in device-clock nanoseconds since the
	// epoch; zero means immediately.
	AtTime uint64

	// Type is the payload type id. Encode takes it from Payload when set.
	Type uint16

	// Payload is the decoded record, nil for unknown types.
	Payload Payload

	// RawPayload holds the payload bytes exactly as received.
	RawPayload []byte
}

// NewMessage builds an addressable message for path carrying payload.
func NewMessage(path ProtocolPath, payload Payload) *Message {
	m := &Message{
		Protocol:    Version,
		Addressable: true,
		Path:        &path,
		Payload:     payload,
	}
	if payload != nil {
		m.Type = payload.TypeID()
	}
	return m
}

// Tagged reports whether the message is tag-addressed.
func (m *Message) Tagged() bool {
	return m.Path != nil && m.Path.Tagged
}

// SiteID returns the site of the message path, or "" without a path.
func (m *Message) SiteID() string {
	if m.Path == nil {
		return ""
	}
	return m.Path.SiteID()
}

// DeviceID returns the addressed device for untagged messages.
func (m *Message) DeviceID() (string, bool) {
	if m.Path == nil {
		return "", false
	}
	return m.Path.DeviceID()
}

// Encode serialises the message, recomputing Size and Protocol.
//
// A message without Payload is encoded from RawPayload when that is set, so
// frames of unknown type can be forwarded unchanged.
//
// Returns:
//   - []byte: The complete frame
//   - error: ErrNoPayload or ErrNoPath (both wrapped with ErrPack)
func (m *Message) Encode() ([]byte, error) {
	var body []byte
	switch {
	case m.Payload != nil:
		var err error
		if body, err = EncodePayload(m.Payload); err != nil {
			return nil, err
		}
		m.Type = m.Payload.TypeID()
	case m.RawPayload != nil:
		body = m.RawPayload
	default:
		return nil, fmt.Errorf("%w: %w", ErrPack, ErrNoPayload)
	}
	if m.Path == nil {
		return nil, fmt.Errorf("%w: %w", ErrPack, ErrNoPath)
	}

	size := HeaderSize + len(body)
	if size > 0xFFFF {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds size field", ErrPack, size)
	}
	m.Size = uint16(size)
	m.Protocol = Version

	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[offSize:], m.Size)

	word := m.Protocol & protocolMask
	if m.Addressable {
		word |= addressableFlag
	}
	if m.Path.Tagged {
		word |= taggedFlag
	}
	binary.LittleEndian.PutUint16(buf[offProtocol:], word)

	copy(buf[offTarget:], m.Path.RawTarget[:])
	copy(buf[offSite:], m.Path.RawSite[:])
	if m.Acknowledge {
		binary.LittleEndian.PutUint16(buf[offAck:], acknowledgeFlag)
	}

	binary.LittleEndian.PutUint64(buf[offAtTime:], m.AtTime)
	binary.LittleEndian.PutUint16(buf[offType:], m.Type)
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Decode parses one frame.
//
// Unknown payload types are not an error: the message is returned with
// Payload nil and RawPayload set. A payload that fails to decode is dropped
// silently when the frame comes from the all-zero site, which some firmware
// emits as noise; otherwise it is reported.
//
// Returns:
//   - *Message: The decoded message (non-nil whenever err is nil)
//   - error: wraps ErrUnpack plus ErrInvalidFrame, ErrUnsupportedProtocol
//     or ErrNotAddressable
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %w: %d bytes, need at least %d", ErrUnpack, ErrInvalidFrame, len(data), HeaderSize)
	}

	size := binary.LittleEndian.Uint16(data[offSize:])
	if int(size) < HeaderSize || int(size) > len(data) {
		return nil, fmt.Errorf("%w: %w: declared size %d, have %d bytes", ErrUnpack, ErrInvalidFrame, size, len(data))
	}

	word := binary.LittleEndian.Uint16(data[offProtocol:])
	m := &Message{
		Size:        size,
		Protocol:    word & protocolMask,
		Addressable: word&addressableFlag != 0,
	}
	if m.Protocol != Version {
		return nil, fmt.Errorf("%w: %w: %d", ErrUnpack, ErrUnsupportedProtocol, m.Protocol)
	}
	if !m.Addressable {
		return nil, fmt.Errorf("%w: %w", ErrUnpack, ErrNotAddressable)
	}

	path := ProtocolPath{Tagged: word&taggedFlag != 0}
	copy(path.RawTarget[:], data[offTarget:offSite])
	copy(path.RawSite[:], data[offSite:offAck])
	m.Path = &path
	m.Acknowledge = binary.LittleEndian.Uint16(data[offAck:])&acknowledgeFlag != 0
	m.AtTime = binary.LittleEndian.Uint64(data[offAtTime:])
	m.Type = binary.LittleEndian.Uint16(data[offType:])

	m.RawPayload = make([]byte, int(size)-HeaderSize)
	copy(m.RawPayload, data[HeaderSize:size])

	payload, _, err := DecodePayload(m.Type, m.RawPayload)
	if err != nil {
		if path.IsAllSites() {
			return m, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnpack, err)
	}
	m.Payload = payload
	return m, nil
}

// String returns a short description for logs.
func (m *Message) String() string {
	path := "<no path>"
	if m.Path != nil {
		path = m.Path.String()
	}
	return fmt.Sprintf("Message{type=%d %s at=%d ack=%t payload=%+v}", m.Type, path, m.AtTime, m.Acknowledge, m.Payload)
}

// Clone returns a copy that can be encoded independently. The payload record
// is shared; Encode never modifies it.
func (m *Message) Clone() *Message {
	c := *m
	if m.Path != nil {
		p := *m.Path
		c.Path = &p
	}
	return &c
}
