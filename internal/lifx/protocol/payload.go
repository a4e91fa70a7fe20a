package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Payload is a fixed-layout record carried after the frame header.
// Implementations are plain structs whose fields encoding/binary can lay out
// in declaration order.
type Payload interface {
	TypeID() uint16
}

// LabelSize is the width of every label field on the wire.
const LabelSize = 32

// Label is a NUL-padded UTF-8 string field.
type Label [LabelSize]byte

// NewLabel truncates s to LabelSize bytes.
func NewLabel(s string) Label {
	var l Label
	copy(l[:], s)
	return l
}

// String returns the label without trailing padding.
func (l Label) String() string {
	if i := bytes.IndexByte(l[:], 0); i >= 0 {
		return string(l[:i])
	}
	return string(l[:])
}

// Hsbk is the colour record shared by light payloads.
type Hsbk struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// registry maps a type id to its payload constructor. It is filled by init
// and read-only afterwards, so lookups need no lock.
var registry = map[uint16]func() Payload{}

// register binds a payload type id to a constructor. Only init may call it.
func register(typeID uint16, factory func() Payload) {
	if _, dup := registry[typeID]; dup {
		panic(fmt.Sprintf("protocol: payload type %d registered twice", typeID))
	}
	registry[typeID] = factory
}

// NewPayload returns a zero payload for typeID, or false if the type is unknown.
func NewPayload(typeID uint16) (Payload, bool) {
	factory, ok := registry[typeID]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// EncodePayload serialises p little-endian.
func EncodePayload(p Payload) ([]byte, error) {
	size := binary.Size(p)
	if size < 0 {
		return nil, fmt.Errorf("%w: %T is not a fixed-layout record", ErrPack, p)
	}
	if size == 0 {
		return []byte{}, nil
	}
	return binary.Append(make([]byte, 0, size), binary.LittleEndian, p)
}

// DecodePayload decodes data into a new payload of the given type.
// Trailing bytes beyond the record are ignored.
//
// Returns:
//   - Payload: nil with ok=false when the type is not registered
//   - error: non-nil when data is too short for the record
func DecodePayload(typeID uint16, data []byte) (p Payload, ok bool, err error) {
	p, ok = NewPayload(typeID)
	if !ok {
		return nil, false, nil
	}
	if binary.Size(p) == 0 {
		return p, true, nil
	}
	if _, err := binary.Decode(data, binary.LittleEndian, p); err != nil {
		return nil, true, fmt.Errorf("type %d: %w", typeID, err)
	}
	return p, true, nil
}
