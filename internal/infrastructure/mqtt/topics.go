package mqtt

import "fmt"

// Topic prefixes for the chanio MQTT surface.
//
// All topics live under the flat scheme: chanio/{category}/...
const (
	// TopicPrefix is the base for all chanio topics.
	TopicPrefix = "chanio"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "chanio/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "chanio/system"
)

// Topics provides builders for chanio MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("0.0.1234")
//	// Returns: "chanio/device/0.0.1234/state"
type Topics struct{}

// DeviceState returns the retained per-device state topic. The daemon
// publishes the device's current state and availability here after
// every transition.
//
// Example: chanio/device/0.0.1234/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// DeviceEvent returns the per-device lifecycle event topic. One message
// per registration, unregistration or state transition, not retained.
//
// Example: chanio/device/0.0.1234/event
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixDevice, deviceID)
}

// SystemStatus returns the daemon status topic. Carries the retained
// online/offline payload and the LWT.
//
// Example: chanio/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: chanio/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevice)
}

// AllDeviceEvents returns a pattern matching every device event topic.
//
// Pattern: chanio/device/+/event
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/+/event", TopicPrefixDevice)
}

// AllTopics returns a pattern matching all chanio topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: chanio/#
func (Topics) AllTopics() string {
	return "chanio/#"
}
