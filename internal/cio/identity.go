package cio

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceID is the canonical identity of a channel-attached device:
// subchannel-set id plus platform-assigned device number. It is the
// stable key across subchannel renumbering and is immutable once a
// device object has been created for it.
type DeviceID struct {
	SSID  uint8
	Devno uint16
}

// String formats the identity in bus-id notation, e.g. "0.0.1234".
func (id DeviceID) String() string {
	return fmt.Sprintf("0.%x.%04x", id.SSID, id.Devno)
}

// SchID identifies one subchannel: subchannel-set id plus subchannel
// number. Unlike DeviceID it is incidental; the platform may hand the
// same number to a different physical device after reconfiguration.
type SchID struct {
	SSID   uint8
	Number uint16
}

func (id SchID) String() string {
	return fmt.Sprintf("0.%x.%04x", id.SSID, id.Number)
}

// ParseDeviceID parses bus-id notation ("0.0.1234") into a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] != "0" {
		return DeviceID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	ssid, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return DeviceID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	devno, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil || len(parts[2]) != 4 {
		return DeviceID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return DeviceID{SSID: uint8(ssid), Devno: uint16(devno)}, nil
}

// DeviceInfo holds the sensed identity descriptors of a device. A zero
// CUType means the device has not completed recognition yet.
type DeviceInfo struct {
	CUType   uint16
	CUModel  uint8
	DevType  uint16
	DevModel uint8
}

// Modalias renders the descriptor in modalias notation,
// e.g. "ccw:t3990m0Cdt3390dm0A" or "ccw:t3990m0Cdtdm" when the device
// type is unset.
func (i DeviceInfo) Modalias() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ccw:t%04Xm%02X", i.CUType, i.CUModel)
	if i.DevType != 0 {
		fmt.Fprintf(&b, "dt%04Xdm%02X", i.DevType, i.DevModel)
	} else {
		b.WriteString("dtdm")
	}
	return b.String()
}
