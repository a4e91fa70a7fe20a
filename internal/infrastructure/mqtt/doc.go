// Package mqtt connects graylogic-lifx to the Gray Logic message bus.
//
// The LIFX bridge receives commands and publishes acknowledgements, light
// state and health over MQTT:
//
//	Gray Logic Core <-> MQTT broker <-> graylogic-lifx <-> LIFX LAN
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect with backoff, restoring subscriptions afterwards
//   - an optional Last Will so the broker reports the bridge offline on a crash
//   - panic recovery around message handlers
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: topics.Health(), Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
