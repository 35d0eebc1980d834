package cio

import "context"

// PathStatus is the device-relevant snapshot of a subchannel's status
// block: whether the device number is valid, which number the platform
// currently reports, and the installed/available/operational path masks.
type PathStatus struct {
	// DNV indicates the device-number-valid flag. When clear the
	// subchannel no longer addresses any device.
	DNV   bool
	Devno uint16

	// PIM/PAM/POM are the installed, available and operational path
	// masks as reported by the platform.
	PIM uint8
	PAM uint8
	POM uint8

	// Busy indicates an I/O operation is still in flight on the
	// subchannel, with ActivePath naming the path it runs on.
	Busy       bool
	ActivePath uint8
}

// RawIO is the hardware-access collaborator. It wraps the raw channel
// instructions the binding protocol and the state machine need; it is
// invoked with the owning subchannel lock NOT held, since several of the
// calls block.
//
// Errors: ErrTimeout and ErrNoPath are transient and drive retry or
// disconnection; ErrNotOperational is fatal for the device. Anything
// else is treated as a structural failure per the error taxonomy.
type RawIO interface {
	// UpdateStatus re-reads the subchannel status block.
	UpdateStatus(id SchID) (PathStatus, error)

	// CommitConfig pushes the subchannel configuration (enable flag,
	// interruption parameter) to the hardware.
	CommitConfig(id SchID, cfg SubchannelConfig) error

	// EnableSubchannel and DisableSubchannel toggle the subchannel for
	// I/O. Disable returns ErrTimeout while an operation is still in
	// flight.
	EnableSubchannel(id SchID) error
	DisableSubchannel(id SchID) error

	// SenseID performs device recognition on the given paths and
	// returns the sensed identity descriptors. ErrTimeout means the
	// device did not respond (boxed); ErrNotOperational means there is
	// no device.
	SenseID(ctx context.Context, id SchID, paths uint8) (DeviceInfo, error)

	// VerifyPaths re-checks which of the given paths are usable and
	// returns the verified mask. ErrNoPath when none remain.
	VerifyPaths(ctx context.Context, id SchID, paths uint8) (uint8, error)

	// HaltClear cancels in-flight I/O: halt first, clear if the halt
	// does not take. ErrTimeout when the clear is still pending.
	HaltClear(id SchID) error

	// StealLock clears a reserve/box condition left by another system
	// image (the forced-unlock operation behind "force" online).
	StealLock(ctx context.Context, id SchID) error
}
