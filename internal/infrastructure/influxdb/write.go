package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTransition records one device state transition. Non-blocking;
// points are batched and flushed in the background.
func (c *Client) WriteTransition(deviceID, from, to string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"device_transitions",
		map[string]string{
			"device_id": deviceID,
			"from":      from,
			"to":        to,
		},
		map[string]interface{}{"count": 1},
		time.Now(),
	))
}

// WriteRecoverySweep records one pass of the recovery scheduler:
// how many disconnected devices are still waiting for paths, and the
// backoff phase it rearmed with (-1 when idle).
func (c *Client) WriteRecoverySweep(stragglers, phase int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"recovery_sweeps",
		nil,
		map[string]interface{}{
			"stragglers": stragglers,
			"phase":      phase,
		},
		time.Now(),
	))
}

// WritePoolGauge records the registry pool sizes.
func (c *Client) WritePoolGauge(bound, disconnected, orphaned int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"registry_pools",
		nil,
		map[string]interface{}{
			"bound":        bound,
			"disconnected": disconnected,
			"orphaned":     orphaned,
		},
		time.Now(),
	))
}
