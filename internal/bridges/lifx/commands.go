package lifx

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/network"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
)

var (
	errUnknownCommand    = errors.New("unknown command")
	errInvalidParameters = errors.New("invalid parameters")
	errNoTagger          = errors.New("tag management is not available")
)

const (
	powerOn  uint16 = 65535
	powerOff uint16 = 0

	minKelvin = 2500
	maxKelvin = 9000

	defaultKelvin         = 3500
	defaultWaveformPeriod = 1000.0
)

// defaultColor is used for fields a colour command leaves out when the
// target has no last known colour.
var defaultColor = protocol.Hsbk{Brightness: 65535, Kelvin: defaultKelvin}

var waveforms = map[string]uint8{
	"saw":       protocol.WaveformSaw,
	"sine":      protocol.WaveformSine,
	"half_sine": protocol.WaveformHalfSine,
	"triangle":  protocol.WaveformTriangle,
	"pulse":     protocol.WaveformPulse,
}

// executeCommand translates a command into LIFX messages.
//
// Returns:
//   - map[string]any: Output to attach to the ack, or nil
//   - error: Wraps errUnknownCommand, errInvalidParameters or a network error
func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage, target routing.Target) (map[string]any, error) {
	switch cmd.Command {
	case "on":
		return nil, b.send(ctx, cmd, target, &protocol.SetPower{Level: powerOn})
	case "off":
		return nil, b.send(ctx, cmd, target, &protocol.SetPower{Level: powerOff})
	case "refresh":
		return nil, b.send(ctx, cmd, target, &protocol.LightGet{})
	case "set_color":
		return nil, b.executeSetColor(ctx, cmd, target)
	case "set_waveform":
		return nil, b.executeSetWaveform(ctx, cmd, target)
	case "set_label":
		return nil, b.executeSetLabel(ctx, cmd, target)
	case "add_tag", "remove_tag":
		return nil, b.executeTagMembership(ctx, cmd, target)
	case "purge_tags":
		return b.executePurgeTags(ctx)
	case "sync_color":
		return b.executeSyncColor(ctx, cmd, target)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

func (b *Bridge) send(ctx context.Context, cmd CommandMessage, target routing.Target, payload protocol.Payload) error {
	ack, err := boolParam(cmd.Parameters, "acknowledge", false)
	if err != nil {
		return err
	}
	return b.network.Send(ctx, target, payload, network.SendOptions{Acknowledge: ack})
}

func (b *Bridge) executeSetColor(ctx context.Context, cmd CommandMessage, target routing.Target) error {
	color, duration, err := b.colorParams(cmd.Parameters, target)
	if err != nil {
		return err
	}
	return b.send(ctx, cmd, target, &protocol.LightSet{Color: color, Duration: duration})
}

func (b *Bridge) executeSetWaveform(ctx context.Context, cmd CommandMessage, target routing.Target) error {
	p := cmd.Parameters

	name, err := stringParam(p, "waveform")
	if err != nil {
		return err
	}
	waveform, ok := waveforms[name]
	if !ok {
		return fmt.Errorf("%w: unknown waveform %q", errInvalidParameters, name)
	}

	color, _, err := b.colorParams(p, target)
	if err != nil {
		return err
	}

	period, err := numberParam(p, "period_ms", defaultWaveformPeriod, 1, math.MaxUint32)
	if err != nil {
		return err
	}
	cycles, err := numberParam(p, "cycles", 1, 0, math.MaxFloat32)
	if err != nil {
		return err
	}
	duty, err := numberParam(p, "duty_cycle", 0, -1, 1)
	if err != nil {
		return err
	}
	transient, err := boolParam(p, "transient", true)
	if err != nil {
		return err
	}

	return b.send(ctx, cmd, target, &protocol.LightSetWaveform{
		Transient: transient,
		Color:     color,
		Period:    uint32(period),
		Cycles:    float32(cycles),
		DutyCycle: int16(math.Round(duty * math.MaxInt16)),
		Waveform:  waveform,
	})
}

func (b *Bridge) executeSetLabel(ctx context.Context, cmd CommandMessage, target routing.Target) error {
	if target.DeviceID == "" {
		return fmt.Errorf("%w: set_label needs a device target", errInvalidParameters)
	}
	label, err := stringParam(cmd.Parameters, "label")
	if err != nil {
		return err
	}
	if len(label) > protocol.LabelSize {
		return fmt.Errorf("%w: label longer than %d bytes", errInvalidParameters, protocol.LabelSize)
	}
	return b.send(ctx, cmd, target, &protocol.SetLabel{Label: protocol.NewLabel(label)})
}

func (b *Bridge) executeTagMembership(ctx context.Context, cmd CommandMessage, target routing.Target) error {
	if b.tagger == nil {
		return errNoTagger
	}
	if target.DeviceID == "" {
		return fmt.Errorf("%w: %s needs a device target", errInvalidParameters, cmd.Command)
	}
	tag, err := stringParam(cmd.Parameters, "tag")
	if err != nil {
		return err
	}
	if len(tag) > protocol.LabelSize {
		return fmt.Errorf("%w: tag longer than %d bytes", errInvalidParameters, protocol.LabelSize)
	}

	if cmd.Command == "add_tag" {
		return b.tagger.AddTagToDevice(ctx, tag, target.DeviceID)
	}
	return b.tagger.RemoveTagFromDevice(ctx, tag, target.DeviceID)
}

func (b *Bridge) executePurgeTags(ctx context.Context) (map[string]any, error) {
	if b.tagger == nil {
		return nil, errNoTagger
	}
	purged, err := b.tagger.PurgeUnusedTags(ctx)
	if purged == nil {
		purged = []string{}
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"purged": purged}, nil
}

// executeSyncColor sets every device of target to one colour at the same
// device time.
func (b *Bridge) executeSyncColor(ctx context.Context, cmd CommandMessage, target routing.Target) (map[string]any, error) {
	color, duration, err := b.colorParams(cmd.Parameters, target)
	if err != nil {
		return nil, err
	}

	devices := b.devicesFor(target)
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no known devices for %s", routing.ErrUnroutable, target)
	}

	delay, err := b.network.Sync(ctx, func(ctx context.Context, s network.Sender) error {
		for _, id := range devices {
			payload := &protocol.LightSet{Color: color, Duration: duration}
			if err := s.Send(ctx, routing.DeviceTarget(id), payload, network.SendOptions{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"devices": len(devices), "delay_ms": delay.Milliseconds()}, nil
}

// devicesFor expands target to the device ids the routing table knows.
func (b *Bridge) devicesFor(target routing.Target) []string {
	rm := b.network.Routing()
	switch {
	case target.DeviceID != "":
		if _, ok := rm.Table().Entry(target.DeviceID); !ok {
			return nil
		}
		return []string{target.DeviceID}
	case target.Tag != "":
		return rm.DevicesWithTag(target.Tag)
	default:
		var ids []string
		for _, e := range rm.Table().Entries() {
			ids = append(ids, e.DeviceID)
		}
		return ids
	}
}

// colorParams reads hue (degrees), saturation, brightness (0-1), kelvin
// and duration_ms. Missing fields keep a device target's last reported
// colour.
func (b *Bridge) colorParams(p map[string]any, target routing.Target) (protocol.Hsbk, uint32, error) {
	base := defaultColor
	if target.DeviceID != "" {
		if c, ok := b.lastColor(target.DeviceID); ok {
			base = c
		}
	}

	hue, err := numberParam(p, "hue", hueFromWire(base.Hue), 0, 360)
	if err != nil {
		return protocol.Hsbk{}, 0, err
	}
	sat, err := numberParam(p, "saturation", fractionFromWire(base.Saturation), 0, 1)
	if err != nil {
		return protocol.Hsbk{}, 0, err
	}
	bri, err := numberParam(p, "brightness", fractionFromWire(base.Brightness), 0, 1)
	if err != nil {
		return protocol.Hsbk{}, 0, err
	}

	kelvinDefault := float64(base.Kelvin)
	if kelvinDefault < minKelvin || kelvinDefault > maxKelvin {
		kelvinDefault = defaultKelvin
	}
	kelvin, err := numberParam(p, "kelvin", kelvinDefault, minKelvin, maxKelvin)
	if err != nil {
		return protocol.Hsbk{}, 0, err
	}

	duration, err := numberParam(p, "duration_ms", 0, 0, math.MaxUint32)
	if err != nil {
		return protocol.Hsbk{}, 0, err
	}

	return protocol.Hsbk{
		Hue:        hueToWire(hue),
		Saturation: fractionToWire(sat),
		Brightness: fractionToWire(bri),
		Kelvin:     uint16(math.Round(kelvin)),
	}, uint32(duration), nil
}

// errorCode maps a command error to its ack code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnknownCommand), errors.Is(err, errNoTagger):
		return ErrCodeInvalidCommand
	case errors.Is(err, errInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, routing.ErrInvalidTarget):
		return ErrCodeInvalidTarget
	case errors.Is(err, routing.ErrTagLimitReached):
		return ErrCodeTagLimit
	case errors.Is(err, routing.ErrUnroutable), errors.Is(err, network.ErrNoClockSource):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, network.ErrMessageTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeProtocolError
	}
}

// numberParam reads a JSON number within [lo, hi], or def when absent.
func numberParam(p map[string]any, key string, def, lo, hi float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", errInvalidParameters, key)
	}
	if f < lo || f > hi || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %s must be between %g and %g", errInvalidParameters, key, lo, hi)
	}
	return f, nil
}

func boolParam(p map[string]any, key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	bv, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", errInvalidParameters, key)
	}
	return bv, nil
}

// stringParam reads a required non-empty string.
func stringParam(p map[string]any, key string) (string, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s is required", errInvalidParameters, key)
	}
	return s, nil
}

// Colour fields are 16-bit on the wire.

func hueToWire(deg float64) uint16 {
	return uint16(math.Round(math.Mod(deg, 360) / 360 * math.MaxUint16))
}

func hueFromWire(h uint16) float64 {
	return float64(h) * 360 / math.MaxUint16
}

func fractionToWire(f float64) uint16 {
	return uint16(math.Round(f * math.MaxUint16))
}

func fractionFromWire(v uint16) float64 {
	return float64(v) / math.MaxUint16
}
