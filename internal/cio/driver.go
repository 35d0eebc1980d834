package cio

// DriverID is one entry of a driver's identity-match table. Zero fields
// other than CUType act as wildcards, mirroring how device matching keys
// on control-unit type first.
type DriverID struct {
	CUType   uint16
	CUModel  uint8
	DevType  uint16
	DevModel uint8
}

func (d DriverID) matches(info DeviceInfo) bool {
	if d.CUType != info.CUType {
		return false
	}
	if d.CUModel != 0 && d.CUModel != info.CUModel {
		return false
	}
	if d.DevType != 0 && d.DevType != info.DevType {
		return false
	}
	if d.DevModel != 0 && d.DevModel != info.DevModel {
		return false
	}
	return true
}

// Driver is the polymorphic collaborator owning a class of devices. All
// callbacks are optional except Probe; a non-nil error from SetOnline or
// SetOffline aborts the corresponding transition.
//
// Callbacks run without the device lock held and may block.
type Driver interface {
	// Name identifies the driver in logs and the API surface.
	Name() string

	// IDs returns the identity-match table. A device is offered to the
	// first registered driver with a matching entry.
	IDs() []DriverID

	// Probe binds the driver to a freshly registered device. Returning
	// an error leaves the device driver-less; it may be re-probed later.
	Probe(dev *Device) error

	// Remove releases the driver's claim before the device goes away.
	Remove(dev *Device)

	// Shutdown is invoked during subsystem teardown for online devices.
	Shutdown(dev *Device)

	// SetOnline and SetOffline bracket the administrative transitions.
	// SetOffline runs before the device is quiesced; an error aborts
	// the transition and the device stays online.
	SetOnline(dev *Device) error
	SetOffline(dev *Device) error

	// Notify is consulted when the evaluator sees a GONE or NO_PATH
	// condition on a non-disconnected device: return true to keep the
	// device resident (disconnect), false to let it be unregistered.
	Notify(dev *Device, event StatusEvent) bool
}
