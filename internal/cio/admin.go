package cio

import (
	"context"
	"fmt"
)

// SetOnline enables a device for I/O. Only accepted from OFFLINE; the
// caller blocks until path verification settles. The driver's SetOnline
// callback runs afterwards; if it fails the device is taken offline
// again. An extra reference is held while the device is online.
func (s *Subsystem) SetOnline(dev *Device) error {
	if dev == nil {
		return ErrNoDevice
	}
	sch := dev.lock()
	if dev.online {
		sch.mu.Unlock()
		return ErrAlreadyOnline
	}
	switch dev.state {
	case StateBoxed:
		sch.mu.Unlock()
		return ErrBoxed
	case StateOffline:
	default:
		sch.mu.Unlock()
		return ErrNotOperational
	}
	if !dev.get() { // online hold
		sch.mu.Unlock()
		return ErrNoDevice
	}
	dev.setState(StateSenseID) // path verification in progress
	if !s.kick(opOnlineVerify, dev, nil) {
		dev.setState(StateOffline)
		sch.mu.Unlock()
		dev.put()
		return ErrStopped
	}
	sch.mu.Unlock()

	dev.waitFinal()

	sch = dev.lock()
	st := dev.state
	drv := dev.drv
	sch.mu.Unlock()
	switch st {
	case StateOnline:
	case StateOffline:
		dev.put()
		return ErrNoPath
	case StateBoxed:
		dev.put()
		return ErrBoxed
	default:
		dev.put()
		return ErrNotOperational
	}
	if drv != nil {
		if err := drv.SetOnline(dev); err != nil {
			s.log.Warn("driver rejected online transition",
				"device", dev.ID, "error", err)
			s.quiesceOffline(dev)
			dev.put()
			return fmt.Errorf("driver set_online: %w", err)
		}
	}
	sch = dev.lock()
	dev.online = true
	sch.mu.Unlock()
	return nil
}

// SetOffline disables a device for I/O. Only accepted from ONLINE. The
// driver's SetOffline callback runs before the device is quiesced; if
// the quiesce itself fails the transition is rolled back and the device
// is marked online again.
func (s *Subsystem) SetOffline(dev *Device) error {
	if dev == nil {
		return ErrNoDevice
	}
	sch := dev.lock()
	if !dev.online || dev.state != StateOnline {
		sch.mu.Unlock()
		return ErrNotOnline
	}
	drv := dev.drv
	sch.mu.Unlock()

	if drv != nil {
		if err := drv.SetOffline(dev); err != nil {
			return fmt.Errorf("driver set_offline: %w", err)
		}
	}
	sch = dev.lock()
	dev.online = false
	sch.mu.Unlock()

	if err := s.quiesceOffline(dev); err != nil {
		// Quiesce failed: roll the administrative intent back.
		sch = dev.lock()
		dev.online = true
		sch.mu.Unlock()
		s.log.Warn("offline transition failed",
			"device", dev.ID, "error", err)
		return err
	}
	// Give up the reference from SetOnline.
	dev.put()
	return nil
}

// quiesceOffline runs the quiesce half of an offline transition and
// waits for it to settle.
func (s *Subsystem) quiesceOffline(dev *Device) error {
	sch := dev.lock()
	if dev.state == StateOffline {
		sch.mu.Unlock()
		return nil
	}
	dev.setState(StateQuiesce)
	if !s.kick(opQuiesce, dev, nil) {
		dev.setState(StateOnline)
		sch.mu.Unlock()
		return ErrStopped
	}
	sch.mu.Unlock()

	dev.waitFinal()

	sch = dev.lock()
	defer sch.mu.Unlock()
	if dev.state != StateOffline {
		return ErrNotOperational
	}
	return nil
}

// OnlineStore is the administrative write endpoint behind the `online`
// attribute: "0", "1" or "force". Overlapping requests for the same
// device fail fast with ErrBusy (single-flight guard).
func (s *Subsystem) OnlineStore(dev *Device, value string) error {
	if dev == nil {
		return ErrNoDevice
	}
	if !dev.admin.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer dev.admin.Store(false)

	switch value {
	case "0":
		return s.storeOffline(dev)
	case "1":
		return s.storeOnline(dev, false)
	case "force":
		return s.storeOnline(dev, true)
	default:
		return fmt.Errorf("%w: online value %q", ErrInvalidID, value)
	}
}

// storeOffline handles "0": a disconnected device is thrown away, an
// online one is taken offline.
func (s *Subsystem) storeOffline(dev *Device) error {
	sch := dev.lock()
	disc := dev.state == StateDisconnected || dev.state == StateDisconnectedSenseID
	sch.mu.Unlock()
	if disc {
		s.removeDisconnected(dev)
		return nil
	}
	return s.SetOffline(dev)
}

// storeOnline handles "1" and "force": complete recognition if the
// control-unit identity is still unknown, then go online. With force, a
// boxed device gets a status-lock-clear and a fresh recognition first.
func (s *Subsystem) storeOnline(dev *Device, force bool) error {
	if err := s.recogAndOnline(dev); err != nil && !force {
		return err
	}
	if !force {
		return nil
	}
	sch := dev.lock()
	boxed := dev.state == StateBoxed
	sch.mu.Unlock()
	if !boxed {
		return nil
	}
	if err := s.rawio.StealLock(context.Background(), dev.Subchannel().ID); err != nil {
		return fmt.Errorf("steal lock: %w", err)
	}
	sch = dev.lock()
	if dev.info.CUType == 0 {
		dev.setState(StateNotOper)
	} else {
		dev.setState(StateOffline)
	}
	sch.mu.Unlock()
	return s.recogAndOnline(dev)
}

// recogAndOnline completes device recognition if needed, blocking until
// it finishes, then performs the online transition.
func (s *Subsystem) recogAndOnline(dev *Device) error {
	if dev.Info().CUType == 0 {
		sch := dev.lock()
		switch dev.state {
		case StateSenseID, StateDisconnectedSenseID:
			// Recognition already running; just wait for it.
		case StateNotOper, StateOffline, StateBoxed:
			s.startRecognition(dev, sch, false)
		}
		sch.mu.Unlock()
		dev.waitRecogDone()
	}
	sch := dev.lock()
	boxed := dev.state == StateBoxed
	sch.mu.Unlock()
	if boxed {
		return ErrBoxed
	}
	return s.SetOnline(dev)
}

// removeDisconnected implements forced offline in disconnected state:
// throw the device away. An orphan is unregistered directly, otherwise
// the whole subchannel is torn down.
func (s *Subsystem) removeDisconnected(dev *Device) {
	sch := dev.lock()
	if sch.IsPseudo() {
		dev.setState(StateNotOper)
		sch.mu.Unlock()
		s.kick(opRemoveOrphan, dev, nil)
		return
	}
	sch.mu.Unlock()
	s.kick(opUnregisterSch, dev, sch)
}
