package protocol

// Payload type ids.
const (
	TypeSetSite           uint16 = 1
	TypeGetPanGateway     uint16 = 2
	TypeStatePanGateway   uint16 = 3
	TypeGetTime           uint16 = 4
	TypeSetTime           uint16 = 5
	TypeStateTime         uint16 = 6
	TypeGetMeshFirmware   uint16 = 14
	TypeStateMeshFirmware uint16 = 15
	TypeGetPower          uint16 = 20
	TypeSetPower          uint16 = 21
	TypeStatePower        uint16 = 22
	TypeGetLabel          uint16 = 23
	TypeSetLabel          uint16 = 24
	TypeStateLabel        uint16 = 25
	TypeGetTags           uint16 = 26
	TypeSetTags           uint16 = 27
	TypeStateTags         uint16 = 28
	TypeGetTagLabels      uint16 = 29
	TypeSetTagLabels      uint16 = 30
	TypeStateTagLabels    uint16 = 31
	TypeGetVersion        uint16 = 32
	TypeStateVersion      uint16 = 33
	TypeAcknowledgement   uint16 = 45
	TypeLightGet          uint16 = 101
	TypeLightSet          uint16 = 102
	TypeLightSetWaveform  uint16 = 103
	TypeLightState        uint16 = 107
)

// Gateway service kinds advertised in StatePanGateway.
const (
	ServiceUDP uint8 = 1
	ServiceTCP uint8 = 2
)

// Waveform shapes for LightSetWaveform.
const (
	WaveformSaw      uint8 = 0
	WaveformSine     uint8 = 1
	WaveformHalfSine uint8 = 2
	WaveformTriangle uint8 = 3
	WaveformPulse    uint8 = 4
)

type SetSite struct{ Site [SiteSize]byte }

type GetPanGateway struct{}

// StatePanGateway announces one service a gateway accepts connections on.
type StatePanGateway struct {
	Service uint8
	Port    uint32
}

type GetTime struct{}

type SetTime struct{ Time uint64 }

// StateTime carries the device clock in nanoseconds since the epoch.
type StateTime struct{ Time uint64 }

type GetMeshFirmware struct{}

// StateMeshFirmware reports the mesh firmware build.
type StateMeshFirmware struct {
	Build   uint64
	Install uint64
	Version uint32
}

// Major returns the major firmware version.
func (s StateMeshFirmware) Major() uint32 { return s.Version >> 16 }

// Minor returns the minor firmware version.
func (s StateMeshFirmware) Minor() uint32 { return s.Version & 0xFF }

type GetPower struct{}

type SetPower struct{ Level uint16 }

type StatePower struct{ Level uint16 }

type GetLabel struct{}

type SetLabel struct{ Label Label }

type StateLabel struct{ Label Label }

type GetTags struct{}

// SetTags replaces the device's tag bitmask.
type SetTags struct{ Tags uint64 }

type StateTags struct{ Tags uint64 }

// GetTagLabels asks for the labels of every tag set in Tags.
type GetTagLabels struct{ Tags uint64 }

// SetTagLabels names the tags set in Tags. An empty label clears them.
type SetTagLabels struct {
	Tags  uint64
	Label Label
}

type StateTagLabels struct {
	Tags  uint64
	Label Label
}

type GetVersion struct{}

type StateVersion struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

type Acknowledgement struct{}

type LightGet struct{}

type LightSet struct {
	Stream   uint8
	Color    Hsbk
	Duration uint32
}

type LightSetWaveform struct {
	Stream    uint8
	Transient bool
	Color     Hsbk
	Period    uint32
	Cycles    float32
	DutyCycle int16
	Waveform  uint8
}

// LightState is the full state report of one bulb.
type LightState struct {
	Color Hsbk
	Dim   int16
	Power uint16
	Label Label
	Tags  uint64
}

func (SetSite) TypeID() uint16           { return TypeSetSite }
func (GetPanGateway) TypeID() uint16     { return TypeGetPanGateway }
func (StatePanGateway) TypeID() uint16   { return TypeStatePanGateway }
func (GetTime) TypeID() uint16           { return TypeGetTime }
func (SetTime) TypeID() uint16           { return TypeSetTime }
func (StateTime) TypeID() uint16         { return TypeStateTime }
func (GetMeshFirmware) TypeID() uint16   { return TypeGetMeshFirmware }
func (StateMeshFirmware) TypeID() uint16 { return TypeStateMeshFirmware }
func (GetPower) TypeID() uint16          { return TypeGetPower }
func (SetPower) TypeID() uint16          { return TypeSetPower }
func (StatePower) TypeID() uint16        { return TypeStatePower }
func (GetLabel) TypeID() uint16          { return TypeGetLabel }
func (SetLabel) TypeID() uint16          { return TypeSetLabel }
func (StateLabel) TypeID() uint16        { return TypeStateLabel }
func (GetTags) TypeID() uint16           { return TypeGetTags }
func (SetTags) TypeID() uint16           { return TypeSetTags }
func (StateTags) TypeID() uint16         { return TypeStateTags }
func (GetTagLabels) TypeID() uint16      { return TypeGetTagLabels }
func (SetTagLabels) TypeID() uint16      { return TypeSetTagLabels }
func (StateTagLabels) TypeID() uint16    { return TypeStateTagLabels }
func (GetVersion) TypeID() uint16        { return TypeGetVersion }
func (StateVersion) TypeID() uint16      { return TypeStateVersion }
func (Acknowledgement) TypeID() uint16   { return TypeAcknowledgement }
func (LightGet) TypeID() uint16          { return TypeLightGet }
func (LightSet) TypeID() uint16          { return TypeLightSet }
func (LightSetWaveform) TypeID() uint16  { return TypeLightSetWaveform }
func (LightState) TypeID() uint16        { return TypeLightState }

func init() {
	for _, f := range []func() Payload{
		func() Payload { return &SetSite{} },
		func() Payload { return &GetPanGateway{} },
		func() Payload { return &StatePanGateway{} },
		func() Payload { return &GetTime{} },
		func() Payload { return &SetTime{} },
		func() Payload { return &StateTime{} },
		func() Payload { return &GetMeshFirmware{} },
		func() Payload { return &StateMeshFirmware{} },
		func() Payload { return &GetPower{} },
		func() Payload { return &SetPower{} },
		func() Payload { return &StatePower{} },
		func() Payload { return &GetLabel{} },
		func() Payload { return &SetLabel{} },
		func() Payload { return &StateLabel{} },
		func() Payload { return &GetTags{} },
		func() Payload { return &SetTags{} },
		func() Payload { return &StateTags{} },
		func() Payload { return &GetTagLabels{} },
		func() Payload { return &SetTagLabels{} },
		func() Payload { return &StateTagLabels{} },
		func() Payload { return &GetVersion{} },
		func() Payload { return &StateVersion{} },
		func() Payload { return &Acknowledgement{} },
		func() Payload { return &LightGet{} },
		func() Payload { return &LightSet{} },
		func() Payload { return &LightSetWaveform{} },
		func() Payload { return &LightState{} },
	} {
		register(f().TypeID(), f)
	}
}
