// Package protocol implements the LIFX LAN v1 wire envelope.
//
// A frame is a fixed 36-byte header followed by a type-specific payload:
//
//	Header   size(2) | protocol:12 addressable:1 tagged:1 reserved:2 (2) | reserved(4)
//	Address  target(8) | site(6) | acknowledge:1 reserved:15 (2)
//	Metadata at_time(8) | type(2) | reserved(2)
//	Payload  fixed-layout record selected by type
//
// All integers are little-endian. The target field holds either a 48-bit
// device id (padded to 8 bytes) or a 64-bit tag bitmask, discriminated by the
// tagged flag.
//
// # Usage
//
//	path := protocol.NewDevicePath("316c69667831", "d073d5000001")
//	msg := protocol.NewMessage(path, &protocol.LightGet{})
//	frame, err := msg.Encode()
//
//	decoded, err := protocol.Decode(frame)
//	if errors.Is(err, protocol.ErrUnpack) {
//	    // drop the frame
//	}
package protocol
