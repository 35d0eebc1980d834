package cio

import "errors"

// Domain errors for the cio package. Check with errors.Is():
//
//	if errors.Is(err, cio.ErrBusy) {
//	    // another administrative request is in flight
//	}
var (
	// ErrNoDevice is returned when an operation targets a nil or
	// already-destroyed device.
	ErrNoDevice = errors.New("cio: no device")

	// ErrAlreadyOnline is returned by SetOnline on a device that is
	// already online.
	ErrAlreadyOnline = errors.New("cio: device already online")

	// ErrNotOnline is returned by SetOffline on a device that is not
	// online.
	ErrNotOnline = errors.New("cio: device not online")

	// ErrBusy is returned when an administrative request overlaps a
	// pending one on the same device (single-flight guard).
	ErrBusy = errors.New("cio: operation in progress")

	// ErrRetry asks the caller to repeat the evaluation on the slow
	// execution path. It is not a failure.
	ErrRetry = errors.New("cio: retry on slow path")

	// ErrBoxed is returned when a device did not respond during
	// recognition and requires a forced unlock.
	ErrBoxed = errors.New("cio: device boxed")

	// ErrNotOperational is the permanent-error result handed to pending
	// completion handlers when a device is confirmed gone.
	ErrNotOperational = errors.New("cio: device not operational")

	// ErrTimeout is returned by raw I/O operations that exceeded their
	// deadline.
	ErrTimeout = errors.New("cio: operation timed out")

	// ErrNoPath is returned by path verification when no usable path
	// to the device remains.
	ErrNoPath = errors.New("cio: no usable path")

	// ErrIO is the transient error handed to pending completion
	// handlers when their operation was cancelled by path termination
	// or shutdown; the request may be retried.
	ErrIO = errors.New("cio: I/O terminated")

	// ErrInvalidID is returned when a bus-id string cannot be parsed.
	ErrInvalidID = errors.New("cio: invalid bus id")

	// ErrSubchannelBound is returned by attach when the subchannel
	// already has a device bound.
	ErrSubchannelBound = errors.New("cio: subchannel already bound")

	// ErrStopped is returned when work is submitted to a stopped
	// subsystem.
	ErrStopped = errors.New("cio: subsystem stopped")
)
