package cio

// StatusEvent classifies a subchannel's latest path-status snapshot for
// the event evaluator and driver notification.
type StatusEvent int

const (
	// StatusGone: the device-number-valid flag is cleared, the device
	// vanished.
	StatusGone StatusEvent = iota
	// StatusNoPath: the device is still there but no usable path
	// remains.
	StatusNoPath
	// StatusRevalidate: the subchannel now reports a different device
	// number.
	StatusRevalidate
	// StatusOper: normal operational snapshot.
	StatusOper
)

var statusNames = map[StatusEvent]string{
	StatusGone:       "gone",
	StatusNoPath:     "no_path",
	StatusRevalidate: "revalidate",
	StatusOper:       "oper",
}

func (e StatusEvent) String() string { return statusNames[e] }

// schAction is the evaluator's verdict for one subchannel event.
type schAction int

const (
	actNone schAction = iota
	actUnregister
	actReprobe
	actDisconnect
	actUnregisterProbe
	actOrphan
)

// SchEvent is the bus entry point for a machine check on a subchannel.
// Disconnected devices are evaluated on the fast path only; everything
// else must run on the slow path, and a fast-path call for such a
// device returns ErrRetry so the bus re-submits it deferred.
func (s *Subsystem) SchEvent(sch *Subchannel, slow bool) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	sch.mu.Lock()
	dev := sch.dev
	disc := dev != nil &&
		(dev.state == StateDisconnected || dev.state == StateDisconnectedSenseID)
	sch.mu.Unlock()

	if disc && slow {
		// Already handled on the fast path.
		return nil
	}
	if !disc && !slow {
		return ErrRetry
	}

	ev := s.refreshStatus(sch, dev)
	action := s.evaluate(dev, disc, ev)
	s.log.Debug("subchannel event",
		"subchannel", sch.ID, "event", ev.String(), "action", int(action))

	switch action {
	case actNone:
	case actReprobe:
		s.triggerReprobe(dev)
	case actDisconnect:
		cur := dev.lock()
		s.setDisconnectedLocked(dev)
		cur.mu.Unlock()
	case actUnregister:
		if dev != nil {
			s.kick(opUnregisterSch, dev, sch)
		} else {
			s.scheduleRemoval(sch)
		}
	case actOrphan:
		s.kick(opOrphan, dev, nil)
	case actUnregisterProbe:
		id, _ := sch.DeviceID()
		s.unregisterSubchannel(sch)
		if err := s.bus.ProbeDevice(id); err != nil {
			s.log.Warn("re-probe after unregister failed",
				"device", id, "error", err)
		}
	}
	return nil
}

// refreshStatus re-reads the status block, folds it into the subchannel
// snapshot and classifies the result.
func (s *Subsystem) refreshStatus(sch *Subchannel, dev *Device) StatusEvent {
	st, err := s.rawio.UpdateStatus(sch.ID)
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if err != nil || !st.DNV {
		sch.dnv = false
		return StatusGone
	}
	sch.applyStatus(st)
	if sch.lpm == 0 {
		return StatusNoPath
	}
	if dev != nil && sch.devno != dev.ID.Devno {
		return StatusRevalidate
	}
	return StatusOper
}

// evaluate applies the decision table. GONE and the non-disconnected
// NO_PATH row consult the owning driver: a driver that wants the device
// kept resident turns removal into a disconnect.
func (s *Subsystem) evaluate(dev *Device, disc bool, ev StatusEvent) schAction {
	if dev == nil {
		if ev == StatusGone || ev == StatusNoPath {
			return actUnregister
		}
		return actNone
	}
	switch ev {
	case StatusGone:
		return s.consultDriver(dev, ev)
	case StatusNoPath:
		if disc {
			return actReprobe
		}
		return s.consultDriver(dev, ev)
	case StatusRevalidate:
		if disc {
			return actReprobe
		}
		if dev.Online() && dev.Driver() != nil {
			// An active, driver-owned device keeps its identity; park it
			// and let replacement resolution claim the subchannel.
			return actOrphan
		}
		return actUnregisterProbe
	default: // StatusOper
		if disc {
			return actReprobe
		}
		return actNone
	}
}

// consultDriver asks the bound driver whether the device should stay
// resident through the outage. Only online devices are worth keeping; a
// path-less offline device is simply gone. No driver, or a declining
// one, means unregister.
func (s *Subsystem) consultDriver(dev *Device, ev StatusEvent) schAction {
	if !dev.Online() {
		return actUnregister
	}
	drv := dev.Driver()
	if drv != nil && drv.Notify(dev, ev) {
		return actDisconnect
	}
	return actUnregister
}

// ChpEvent is the bus entry point for a channel-path vary or
// availability change. mask selects the affected paths on this
// subchannel; on reports whether they came back or went away.
func (s *Subsystem) ChpEvent(sch *Subchannel, mask uint8, on bool) {
	if s.stopped.Load() {
		return
	}
	sch.mu.Lock()
	if on {
		sch.opm |= mask
	} else {
		sch.opm &^= mask
	}
	sch.lpm = sch.pam & sch.opm
	dev := sch.dev
	needTerminate := !on && dev != nil &&
		dev.state == StateOnline && dev.handler != nil
	sch.mu.Unlock()

	if dev == nil {
		return
	}
	if needTerminate {
		s.terminatePath(dev, sch)
		return
	}
	s.Event(dev, EventVerify)
}

// terminatePath cancels in-flight I/O cut off by a vanished path. The
// pending handler receives a transient error, the retry flag is set and
// path verification re-runs once the clear completes.
func (s *Subsystem) terminatePath(dev *Device, sch *Subchannel) {
	if err := s.rawio.HaltClear(sch.ID); err != nil {
		cur := dev.lock()
		s.fsmNotOper(dev, cur)
		cur.mu.Unlock()
		return
	}
	cur := dev.lock()
	defer cur.mu.Unlock()
	if cur != sch || dev.state != StateOnline {
		return
	}
	dev.setState(StateClearVerify)
	dev.flags.intRetry = true
	dev.callHandler(ErrIO)
	s.setDeviceTimeout(dev, s.cfg.VerifyTimeout)
}
