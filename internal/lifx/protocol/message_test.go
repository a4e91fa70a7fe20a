package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// waveformFrame is a SetWaveform frame captured from a bulb on site "1lifx1".
const waveformFrame = "39 00 00 34 00 00 00 00 00 00 00 00 00 00 00 00 " +
	"31 6c 69 66 78 31 00 00 00 00 00 00 00 00 00 00 " +
	"67 00 00 00 00 01 00 00 ff ff ff ff ac 0d c8 00 " +
	"00 00 00 00 80 3f 00 00 00"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestDecodeWaveformFrame(t *testing.T) {
	data := mustHex(t, waveformFrame)
	if len(data) != 57 {
		t.Fatalf("fixture length = %d, want 57", len(data))
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if msg.Size != 57 {
		t.Errorf("Size = %d, want 57", msg.Size)
	}
	if msg.Protocol != Version {
		t.Errorf("Protocol = %d, want %d", msg.Protocol, Version)
	}
	if !msg.Addressable {
		t.Error("Addressable = false, want true")
	}
	if got := msg.SiteID(); got != "316c69667831" {
		t.Errorf("SiteID() = %q, want %q", got, "316c69667831")
	}
	if !msg.Tagged() {
		t.Error("Tagged() = false, want true")
	}
	if _, ok := msg.DeviceID(); ok {
		t.Error("DeviceID() ok = true for tagged frame")
	}
	if ids := msg.Path.TagIDs(); len(ids) != 0 {
		t.Errorf("TagIDs() = %v, want []", ids)
	}
	if msg.Type != TypeLightSetWaveform {
		t.Errorf("Type = %d, want %d", msg.Type, TypeLightSetWaveform)
	}

	wf, ok := msg.Payload.(*LightSetWaveform)
	if !ok {
		t.Fatalf("Payload = %T, want *LightSetWaveform", msg.Payload)
	}
	want := LightSetWaveform{
		Stream:    0,
		Transient: true,
		Color:     Hsbk{Hue: 0, Saturation: 65535, Brightness: 65535, Kelvin: 3500},
		Period:    200,
		Cycles:    1.0,
		DutyCycle: 0,
		Waveform:  WaveformSaw,
	}
	if *wf != want {
		t.Errorf("Payload = %+v, want %+v", *wf, want)
	}

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(encoded, data) {
		t.Errorf("Encode() = % x\nwant       % x", encoded, data)
	}
}

func TestEncodeKnownFrames(t *testing.T) {
	tests := []struct {
		name    string
		path    func() (ProtocolPath, error)
		atTime  uint64
		payload Payload
		want    []byte
	}{
		{
			name:    "tagged get time",
			path:    func() (ProtocolPath, error) { return NewTagPath("000000000000", []int{0, 1}) },
			atTime:  9001,
			payload: &GetTime{},
			want: []byte{
				0x24, 0x00, 0x00, 0x34, 0, 0, 0, 0,
				0x03, 0, 0, 0, 0, 0, 0, 0,
				0, 0, 0, 0, 0, 0, 0, 0,
				0x29, 0x23, 0, 0, 0, 0, 0, 0,
				0x04, 0x00, 0, 0,
			},
		},
		{
			name:    "device get time",
			path:    func() (ProtocolPath, error) { return NewDevicePath("000000000000", "0123456789ab") },
			atTime:  9001,
			payload: GetTime{},
			want: []byte{
				0x24, 0x00, 0x00, 0x14, 0, 0, 0, 0,
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0, 0,
				0, 0, 0, 0, 0, 0, 0, 0,
				0x29, 0x23, 0, 0, 0, 0, 0, 0,
				0x04, 0x00, 0, 0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := tt.path()
			if err != nil {
				t.Fatalf("path error = %v", err)
			}
			msg := NewMessage(path, tt.payload)
			msg.AtTime = tt.atTime

			got, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % x\nwant       % x", got, tt.want)
			}
			if msg.Size != uint16(len(tt.want)) {
				t.Errorf("Size = %d, want %d", msg.Size, len(tt.want))
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	path := AllSitesPath()

	tests := []struct {
		name string
		msg  *Message
		want error
	}{
		{"no payload", &Message{Addressable: true, Path: &path}, ErrNoPayload},
		{"no path", &Message{Addressable: true, Payload: &GetTime{}}, ErrNoPath},
		{"neither", &Message{Addressable: true}, ErrNoPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.msg.Encode()
			if !errors.Is(err, tt.want) {
				t.Errorf("Encode() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrPack) {
				t.Errorf("Encode() error = %v, want wrapped ErrPack", err)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := mustHex(t, waveformFrame)

	withWord := func(lo, hi byte) []byte {
		b := bytes.Clone(valid)
		b[2], b[3] = lo, hi
		return b
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidFrame},
		{"one byte", []byte{0x39}, ErrInvalidFrame},
		{"short header", valid[:20], ErrInvalidFrame},
		{"size beyond data", valid[:40], ErrInvalidFrame},
		{"wrong protocol", withWord(0x01, 0x34), ErrUnsupportedProtocol},
		{"not addressable", withWord(0x00, 0x24), ErrNotAddressable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.data)
			if msg != nil {
				t.Errorf("Decode() msg = %v, want nil", msg)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrUnpack) {
				t.Errorf("Decode() error = %v, want wrapped ErrUnpack", err)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	path, _ := NewDevicePath("316c69667831", "d073d5000001")
	msg := &Message{Addressable: true, Path: &path, Type: 9999, RawPayload: []byte{1, 2, 3}}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Payload != nil {
		t.Errorf("Payload = %v, want nil", got.Payload)
	}
	if got.Type != 9999 {
		t.Errorf("Type = %d, want 9999", got.Type)
	}
	if !bytes.Equal(got.RawPayload, []byte{1, 2, 3}) {
		t.Errorf("RawPayload = %v, want [1 2 3]", got.RawPayload)
	}
}

func TestPayloadRegistry(t *testing.T) {
	if len(registry) == 0 {
		t.Fatal("no payload types registered")
	}
	for id := range registry {
		p, ok := NewPayload(id)
		if !ok || p.TypeID() != id {
			t.Errorf("NewPayload(%d) = %T, %v", id, p, ok)
			continue
		}
		if q, _ := NewPayload(id); binary.Size(q) > 0 && p == q {
			t.Errorf("NewPayload(%d) returned a shared instance", id)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("register() of a taken type id did not panic")
		}
	}()
	register(TypeLightSet, func() Payload { return &LightGet{} })
}

func TestDecodeTruncatedPayload(t *testing.T) {
	build := func(site string) []byte {
		path, _ := NewDevicePath(site, "d073d5000001")
		// StateTime needs 8 bytes; send 3.
		msg := &Message{Addressable: true, Path: &path, Type: TypeStateTime, RawPayload: []byte{1, 2, 3}}
		data, err := msg.Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		return data
	}

	t.Run("zero site is swallowed", func(t *testing.T) {
		msg, err := Decode(build("000000000000"))
		if err != nil {
			t.Fatalf("Decode() error = %v, want nil", err)
		}
		if msg.Payload != nil {
			t.Errorf("Payload = %v, want nil", msg.Payload)
		}
	})

	t.Run("real site is reported", func(t *testing.T) {
		_, err := Decode(build("316c69667831"))
		if !errors.Is(err, ErrUnpack) {
			t.Errorf("Decode() error = %v, want ErrUnpack", err)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	devPath, _ := NewDevicePath("316c69667831", "d073d5123456")
	tagPath, _ := NewTagPath("316c69667831", []int{3, 17, 63})

	tests := []struct {
		name    string
		path    ProtocolPath
		payload Payload
		ack     bool
		atTime  uint64
	}{
		{"light set", devPath, &LightSet{Stream: 1, Color: Hsbk{100, 200, 300, 4000}, Duration: 1500}, true, 0},
		{"set tags", devPath, &SetTags{Tags: 0x8000000000000001}, false, 1_700_000_000_000_000_000},
		{"tag labels", tagPath, &SetTagLabels{Tags: 1 << 17, Label: NewLabel("Kitchen")}, false, 42},
		{"light state", devPath, &LightState{Color: Hsbk{1, 2, 3, 2700}, Dim: -5, Power: 65535, Label: NewLabel("Desk"), Tags: 6}, false, 0},
		{"pan gateway", tagPath, &StatePanGateway{Service: ServiceTCP, Port: 56700}, false, 0},
		{"firmware", devPath, &StateMeshFirmware{Build: 9, Install: 10, Version: 1<<16 | 2}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(tt.path, tt.payload)
			msg.Acknowledge = tt.ack
			msg.AtTime = tt.atTime

			data, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if *got.Path != tt.path {
				t.Errorf("Path = %v, want %v", *got.Path, tt.path)
			}
			if got.Acknowledge != tt.ack {
				t.Errorf("Acknowledge = %t, want %t", got.Acknowledge, tt.ack)
			}
			if got.AtTime != tt.atTime {
				t.Errorf("AtTime = %d, want %d", got.AtTime, tt.atTime)
			}
			if got.Type != tt.payload.TypeID() {
				t.Errorf("Type = %d, want %d", got.Type, tt.payload.TypeID())
			}
			reencoded, err := EncodePayload(got.Payload)
			if err != nil {
				t.Fatalf("EncodePayload() error = %v", err)
			}
			if !bytes.Equal(reencoded, got.RawPayload) {
				t.Errorf("payload bytes = % x, want % x", reencoded, got.RawPayload)
			}
		})
	}
}

func TestFirmwareVersion(t *testing.T) {
	fw := StateMeshFirmware{Version: 1<<16 | 2}
	if fw.Major() != 1 || fw.Minor() != 2 {
		t.Errorf("version = %d.%d, want 1.2", fw.Major(), fw.Minor())
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Kitchen", "Kitchen"},
		{strings.Repeat("x", 40), strings.Repeat("x", LabelSize)},
	}
	for _, tt := range tests {
		if got := NewLabel(tt.in).String(); got != tt.want {
			t.Errorf("NewLabel(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}
