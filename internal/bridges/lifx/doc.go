// Package lifx implements the LIFX protocol bridge for Gray Logic.
//
// The bridge connects Gray Logic Core's MQTT bus to LIFX bulbs on the local
// network. It translates commands into LIFX messages and light state
// reports into retained state messages.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   LIFX Bridge   │   UDP/TCP
//	│      Core       │◄────────►│   (this pkg)    │◄──────────► Gateway bulbs
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//	graylogic/command/lifx/{target}   commands (target: device id, tag:<label>, all)
//	graylogic/ack/lifx/{target}       acknowledgements
//	graylogic/state/lifx/{device}     retained light state
//	graylogic/discovery/lifx          lights seen for the first time
//	graylogic/health/lifx             retained health, also the Last Will
//
// # Commands
//
//   - on, off, refresh
//   - set_color {hue, saturation, brightness, kelvin, duration_ms}
//   - set_waveform {waveform, period_ms, cycles, duty_cycle, transient, colour fields}
//   - set_label {label} (device only)
//   - add_tag, remove_tag {tag} (device only)
//   - purge_tags
//   - sync_color: set_color applied at one device time across the target
//
// Hue is in degrees; saturation and brightness are fractions in [0, 1].
package lifx
