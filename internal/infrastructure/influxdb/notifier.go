package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/RaduG/chanio-core/internal/cio"
)

// Notifier adapts lifecycle notifications to metric writes. All writes
// go through the non-blocking batched write API, so this is safe to
// call from the core's notification hooks.
type Notifier struct {
	client *Client
}

// NewNotifier creates a metric-writing notifier on the given client.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// DeviceRegistered implements cio.Notifier.
func (n *Notifier) DeviceRegistered(dev *cio.Device) {
	n.writeRegistration(dev, "registered")
}

// DeviceUnregistered implements cio.Notifier.
func (n *Notifier) DeviceUnregistered(dev *cio.Device) {
	n.writeRegistration(dev, "unregistered")
}

// StateChanged implements cio.Notifier.
func (n *Notifier) StateChanged(dev *cio.Device, from, to cio.State) {
	n.client.WriteTransition(dev.ID.String(), from.String(), to.String())
}

func (n *Notifier) writeRegistration(dev *cio.Device, kind string) {
	if !n.client.IsConnected() {
		return
	}
	point := write.NewPoint(
		"device_registrations",
		map[string]string{
			"device_id": dev.ID.String(),
			"kind":      kind,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)
	n.client.writeAPI.WritePoint(point)
}
