package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement entity state samples are written to.
const MeasurementEntityState = "entity_state"

// WriteEntityState records one state sample of a Home Assistant entity.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Samples without fields are dropped since InfluxDB rejects them.
//
// Example:
//
//	client.WriteEntityState("light", "light.kitchen",
//	    map[string]any{"on": true, "brightness": 128}, time.Now())
func (c *Client) WriteEntityState(domain, entityID string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementEntityState,
		map[string]string{
			"domain":    domain,
			"entity_id": entityID,
		},
		fields,
		ts,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
