package api

import (
	"github.com/RaduG/chanio-core/internal/cio"
)

// wsEventPayload is the payload broadcast on lifecycle channels.
type wsEventPayload struct {
	DeviceID string `json:"device_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// HubNotifier fans lifecycle callbacks out to WebSocket clients.
// Broadcasts never block: slow clients are skipped by the hub.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier creates a notifier broadcasting on the given hub.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// DeviceRegistered broadcasts on the device.registered channel.
func (n *HubNotifier) DeviceRegistered(dev *cio.Device) {
	n.hub.Broadcast(WSChannelRegistered, wsEventPayload{
		DeviceID: dev.ID.String(),
	})
}

// DeviceUnregistered broadcasts on the device.unregistered channel.
func (n *HubNotifier) DeviceUnregistered(dev *cio.Device) {
	n.hub.Broadcast(WSChannelUnregistered, wsEventPayload{
		DeviceID: dev.ID.String(),
	})
}

// StateChanged broadcasts on the device.state_changed channel. Only the
// identifiers passed in are touched; the device itself is not queried.
func (n *HubNotifier) StateChanged(dev *cio.Device, from, to cio.State) {
	n.hub.Broadcast(WSChannelStateChanged, wsEventPayload{
		DeviceID: dev.ID.String(),
		From:     from.String(),
		To:       to.String(),
	})
}
