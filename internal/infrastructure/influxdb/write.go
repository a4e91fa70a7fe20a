package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLight   = "lifx_light"
	MeasurementGateway = "lifx_gateway"
)

// LightSample is one light state report, scaled to natural units.
type LightSample struct {
	DeviceID string
	SiteID   string
	Label    string

	// Hue is in degrees, 0 to 360.
	Hue float64

	// Saturation and Brightness are fractions, 0 to 1.
	Saturation float64
	Brightness float64

	Kelvin uint16
	On     bool
	Time   time.Time
}

// GatewaySample is one gateway's write counters.
type GatewaySample struct {
	GatewayID   string
	SiteID      string
	IP          string
	Sent        uint64
	Failed      uint64
	Queued      int
	MessageRate float64
	TCP         bool
	Time        time.Time
}

// WriteLight queues a lifx_light point. Dropped silently when disconnected.
func (c *Client) WriteLight(s LightSample) {
	c.write(lightPoint(s))
}

// WriteGateway queues a lifx_gateway point. Dropped silently when disconnected.
func (c *Client) WriteGateway(s GatewaySample) {
	c.write(gatewayPoint(s))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.queued.Add(1)
	c.writeAPI.WritePoint(p)
}

func lightPoint(s LightSample) *write.Point {
	tags := map[string]string{
		"device_id": s.DeviceID,
		"site_id":   s.SiteID,
	}
	if s.Label != "" {
		tags["label"] = s.Label
	}

	power := 0
	if s.On {
		power = 1
	}

	return write.NewPoint(MeasurementLight, tags,
		map[string]interface{}{
			"hue":        s.Hue,
			"saturation": s.Saturation,
			"brightness": s.Brightness,
			"kelvin":     int64(s.Kelvin),
			"power":      power,
		},
		timestamp(s.Time),
	)
}

func gatewayPoint(s GatewaySample) *write.Point {
	return write.NewPoint(MeasurementGateway,
		map[string]string{
			"gateway_id": s.GatewayID,
			"site_id":    s.SiteID,
			"ip":         s.IP,
		},
		map[string]interface{}{
			"sent":         s.Sent,
			"failed":       s.Failed,
			"queued":       s.Queued,
			"message_rate": s.MessageRate,
			"tcp":          s.TCP,
		},
		timestamp(s.Time),
	)
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
