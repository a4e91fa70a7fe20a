// Package influxdb records LIFX light and gateway metrics in InfluxDB.
//
// It wraps influxdb-client-go v2 with non-blocking batched writes. Two
// measurements are written:
//
//	lifx_light    tags: device_id, site_id, label
//	              fields: hue, saturation, brightness, kelvin, power
//	lifx_gateway  tags: gateway_id, site_id, ip
//	              fields: sent, failed, queued, message_rate, tcp
//
// Every point also carries a bridge tag, set as a client default tag.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, "lifx")
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
//	client.WriteLight(influxdb.LightSample{DeviceID: id, Brightness: 0.8})
//
// Write errors arrive asynchronously; they are counted in Stats and
// reported to the logger given to SetLogger.
package influxdb
