package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = "graylogic"

// Protocol is the bridge's segment in the flat topic scheme
// graylogic/{category}/{protocol}/{address}.
const Protocol = "lifx"

// Topics builds the topics the LIFX bridge publishes and subscribes to.
//
//	topics := mqtt.Topics{}
//	topics.State("d073d5000001") // "graylogic/state/lifx/d073d5000001"
type Topics struct{}

// Command returns the command topic for a target: a device id,
// "tag:<label>" or "all".
func (Topics) Command(target string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, target)
}

// AllCommands matches every command addressed to the bridge.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// Ack returns the acknowledgement topic for a target.
func (Topics) Ack(target string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, target)
}

// State returns the retained state topic of a device.
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AllStates matches every device state topic.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, Protocol)
}

// Health returns the bridge health topic, also used for the Last Will.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Discovery returns the topic announcing newly seen devices.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// ParseCommand extracts the target from a command topic.
//
// Returns:
//   - string: The target segment(s) after graylogic/command/lifx/
//   - bool: false if the topic is not a command topic or has no target
func (Topics) ParseCommand(topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/command/%s/", TopicPrefix, Protocol)
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	return topic[len(prefix):], true
}
