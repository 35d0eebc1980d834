package cio

import (
	"context"
	"errors"
	"time"
)

// Event is an external stimulus fed into the device state machine.
type Event int

const (
	// EventInterrupt: an I/O interrupt arrived for the device.
	EventInterrupt Event = iota
	// EventTimeout: the pending-operation timer expired.
	EventTimeout
	// EventVerify: path status may have changed, re-run verification.
	EventVerify
	// EventNotOper: the device is confirmed gone.
	EventNotOper
)

var eventNames = map[Event]string{
	EventInterrupt: "interrupt",
	EventTimeout:   "timeout",
	EventVerify:    "verify",
	EventNotOper:   "notoper",
}

func (e Event) String() string { return eventNames[e] }

// fsmFunc handles one (state, event) cell. Called with the device lock
// held; the owning subchannel is passed alongside.
type fsmFunc func(s *Subsystem, dev *Device, sch *Subchannel)

func fsmNop(*Subsystem, *Device, *Subchannel) {}

// fsmTable is the transition table. Missing cells are nops; EventNotOper
// is handled before the table since it forces the terminal state from
// anywhere. Populated in init: some handlers feed follow-up events back
// through the table, so a composite literal would be an initialization
// cycle.
var fsmTable map[State]map[Event]fsmFunc

func init() {
	fsmTable = map[State]map[Event]fsmFunc{
		StateSenseID: {
			EventTimeout: fsmRecogTimeout,
			EventVerify:  fsmNop, // recognition refreshes paths itself
		},
		StateDisconnectedSenseID: {
			EventTimeout: fsmRecogTimeout,
		},
		StateOffline: {
			EventInterrupt: fsmDeliverInterrupt,
			EventVerify:    fsmKickVerify,
		},
		StateOnline: {
			EventInterrupt: fsmDeliverInterrupt,
			EventTimeout:   fsmOnlineTimeout,
			EventVerify:    fsmKickVerify,
		},
		StateDisconnected: {
			EventVerify: fsmReprobe,
		},
		StateBoxed: {
			// Boxed devices only leave via forced unlock.
		},
		StateClearVerify: {
			EventInterrupt: fsmClearDone,
			EventTimeout:   fsmClearTimeout,
		},
		StateQuiesce: {
			EventInterrupt: fsmQuiesceDone,
			EventTimeout:   fsmQuiesceTimeout,
		},
		StateNotOper: {
			// Terminal: nothing leaves this state.
		},
	}
}

// Event feeds an event into the device state machine. It is the fast
// path entry point for interrupts and timer expiry; the handlers never
// block, they at most enqueue deferred work.
func (s *Subsystem) Event(dev *Device, ev Event) {
	sch := dev.lock()
	defer sch.mu.Unlock()
	s.eventLocked(dev, sch, ev)
}

func (s *Subsystem) eventLocked(dev *Device, sch *Subchannel, ev Event) {
	if ev == EventNotOper {
		s.fsmNotOper(dev, sch)
		return
	}
	if fn := fsmTable[dev.state][ev]; fn != nil {
		fn(s, dev, sch)
	}
}

// Interrupt is the bus IRQ entry point: dispatch to whichever device is
// bound to the interrupting subchannel.
func (s *Subsystem) Interrupt(sch *Subchannel) {
	sch.mu.Lock()
	dev := sch.dev
	if dev == nil {
		sch.mu.Unlock()
		return
	}
	s.eventLocked(dev, sch, EventInterrupt)
	sch.mu.Unlock()
}

func fsmDeliverInterrupt(_ *Subsystem, dev *Device, _ *Subchannel) {
	dev.stopTimer()
	dev.callHandler(nil)
}

func fsmOnlineTimeout(_ *Subsystem, dev *Device, _ *Subchannel) {
	dev.callHandler(ErrTimeout)
}

func fsmKickVerify(s *Subsystem, dev *Device, sch *Subchannel) {
	_ = sch
	s.kick(opVerify, dev, nil)
}

func fsmReprobe(s *Subsystem, dev *Device, _ *Subchannel) {
	s.triggerReprobe(dev)
}

func fsmRecogTimeout(s *Subsystem, dev *Device, sch *Subchannel) {
	// Device did not respond in time: box it. Registration still
	// happens so the operator can see and force-unlock it.
	dev.stopTimer()
	dev.setState(StateBoxed)
	s.recognitionSettled(dev, sch)
}

func fsmClearDone(s *Subsystem, dev *Device, sch *Subchannel) {
	dev.stopTimer()
	if dev.online {
		dev.setState(StateOnline)
	} else {
		dev.setState(StateOffline)
	}
	if dev.flags.intRetry {
		dev.flags.intRetry = false
		s.eventLocked(dev, sch, EventVerify)
	}
}

func fsmClearTimeout(s *Subsystem, dev *Device, sch *Subchannel) {
	s.fsmNotOper(dev, sch)
}

func fsmQuiesceDone(_ *Subsystem, dev *Device, _ *Subchannel) {
	dev.stopTimer()
	dev.setState(StateOffline)
}

func fsmQuiesceTimeout(_ *Subsystem, dev *Device, _ *Subchannel) {
	// Give up on the clear-in-progress device.
	dev.stopTimer()
	dev.setState(StateOffline)
}

// fsmNotOper forces the terminal state: pending work is cancelled, the
// completion handler receives a permanent error and the device is
// unregistered asynchronously. Called with the device lock held.
func (s *Subsystem) fsmNotOper(dev *Device, sch *Subchannel) {
	if dev.state == StateNotOper {
		return
	}
	s.setNotOperLocked(dev)
	if !sch.IsPseudo() {
		s.kick(opUnregisterSch, dev, sch)
	} else {
		s.kick(opRemoveOrphan, dev, nil)
	}
}

// setNotOperLocked performs the terminal transition without scheduling
// teardown; callers that already run teardown use it directly.
func (s *Subsystem) setNotOperLocked(dev *Device) {
	dev.stopTimer()
	if !dev.flags.doneNotif {
		dev.flags.doneNotif = true
		dev.callHandler(ErrNotOperational)
	}
	dev.setState(StateNotOper)
	if !dev.flags.recogDone {
		dev.markRecogDone()
		s.initFinished()
	}
}

// setDisconnectedLocked parks a device in the disconnected pool and,
// when the device is administratively online, arms the recovery
// scheduler at phase 0.
func (s *Subsystem) setDisconnectedLocked(dev *Device) {
	dev.stopTimer()
	dev.setState(StateDisconnected)
	if dev.online {
		s.recovery.schedule()
	}
}

// setDeviceTimeout arms the pending-operation timer. Pairs a device
// reference with the timer callback; re-arming cancels the previous
// timer first. Called with the device lock held.
func (s *Subsystem) setDeviceTimeout(dev *Device, d time.Duration) {
	dev.stopTimer()
	if d <= 0 {
		return
	}
	if !dev.get() {
		return
	}
	dev.timer = time.AfterFunc(d, func() {
		s.Event(dev, EventTimeout)
		dev.put()
	})
}

// startRecognition moves the device into sense-id and enqueues the
// blocking sense operation. Called with the device lock held.
func (s *Subsystem) startRecognition(dev *Device, sch *Subchannel, disconnected bool) {
	_ = sch
	if disconnected {
		dev.setState(StateDisconnectedSenseID)
	} else {
		dev.setState(StateSenseID)
	}
	dev.flags.recogDone = false
	dev.flags.doneNotif = false
	dev.waitMu.Lock()
	dev.waitRecog = false
	dev.waitMu.Unlock()
	s.initStarted()
	if !s.kick(opRecognize, dev, nil) {
		s.setNotOperLocked(dev)
	}
}

// doRecognize runs one sense-id attempt on the slow path and applies
// the outcome to the state machine.
func (s *Subsystem) doRecognize(dev *Device) {
	sch := dev.lock()
	if dev.state != StateSenseID && dev.state != StateDisconnectedSenseID {
		sch.mu.Unlock()
		return
	}
	id := sch.ID
	paths := sch.lpm
	sch.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecognitionTimeout)
	info, err := s.rawio.SenseID(ctx, id, paths)
	cancel()

	sch = dev.lock()
	defer sch.mu.Unlock()
	if dev.state != StateSenseID && dev.state != StateDisconnectedSenseID {
		// A machine check beat us; nothing to apply.
		return
	}
	wasDisconnected := dev.state == StateDisconnectedSenseID
	switch {
	case err == nil:
		dev.info = info
		if wasDisconnected && dev.online {
			dev.setState(StateOnline)
		} else {
			dev.setState(StateOffline)
		}
	case errors.Is(err, ErrTimeout):
		dev.setState(StateBoxed)
	case errors.Is(err, ErrNoPath) && wasDisconnected:
		s.setDisconnectedLocked(dev)
	default:
		// No device, or paths vanished during first recognition:
		// terminal, teardown scheduled by fsmNotOper.
		s.fsmNotOper(dev, sch)
		return
	}
	s.recognitionSettled(dev, sch)
}

// recognitionSettled runs once per recognition attempt when the machine
// has settled: registration (or teardown) is scheduled and waiters are
// woken. Called with the device lock held.
func (s *Subsystem) recognitionSettled(dev *Device, sch *Subchannel) {
	if dev.flags.recogDone {
		return
	}
	dev.markRecogDone()
	s.initFinished()
	// Registration cannot run in this context; schedule it.
	s.kick(opRegister, dev, sch)
}

// doRegister makes a recognized device visible: registry entry, driver
// match, lifecycle notification. Re-invoked after a boxed device gets
// recognized properly, in which case only driver matching is re-run.
func (s *Subsystem) doRegister(dev *Device) {
	if s.reg.registered(dev) {
		if dev.Driver() == nil {
			s.matchDriver(dev)
		}
		return
	}
	if !s.reg.register(dev) {
		s.log.Error("duplicate device identity, dropping", "device", dev.ID)
		sch := dev.lock()
		if sch.dev == dev {
			sch.setDevice(nil)
		}
		s.setNotOperLocked(dev)
		sch.mu.Unlock()
		if !sch.IsPseudo() {
			s.scheduleRemoval(sch)
		}
		dev.put() // initial reference
		return
	}
	if dev.Info().CUType != 0 {
		s.matchDriver(dev)
	}
	if s.notifier != nil {
		s.notifier.DeviceRegistered(dev)
	}
	s.log.Info("device registered",
		"device", dev.ID, "state", dev.State().String())
}

// triggerReprobe schedules a status refresh and fresh recognition for a
// device whose paths may have come back. Called with the device lock
// held or from the evaluator with the subchannel lock held.
func (s *Subsystem) triggerReprobe(dev *Device) {
	s.kick(opReprobe, dev, nil)
}

// doReprobe refreshes the subchannel snapshot and restarts recognition.
// If the platform now reports a different device number, the device is
// orphaned instead and replacement resolution takes over.
func (s *Subsystem) doReprobe(dev *Device) {
	probed := dev.Subchannel()
	if probed.IsPseudo() {
		return
	}
	st, err := s.rawio.UpdateStatus(probed.ID)
	sch := dev.lock()
	if sch != probed {
		// The device moved while the status was being read.
		sch.mu.Unlock()
		return
	}
	if err != nil || !st.DNV {
		s.fsmNotOper(dev, sch)
		sch.mu.Unlock()
		return
	}
	sch.applyStatus(st)
	if sch.devno != dev.ID.Devno {
		// The platform moved the number elsewhere; park the device and
		// resolve the identity now living on this subchannel.
		sch.mu.Unlock()
		s.doMoveToOrphanage(dev)
		return
	}
	cfg := sch.config
	disconnected := dev.state == StateDisconnected || dev.state == StateDisconnectedSenseID
	s.startRecognition(dev, sch, disconnected)
	sch.mu.Unlock()
	if err := s.rawio.CommitConfig(sch.ID, cfg); err != nil {
		s.log.Debug("config commit during reprobe failed",
			"subchannel", sch.ID, "error", err)
	}
}

// doVerify re-runs path verification for a bound device after a path
// event. Zero usable paths disconnect an online device; a path-less
// offline device is simply gone.
func (s *Subsystem) doVerify(dev *Device) {
	sch := dev.lock()
	if dev.state != StateOnline && dev.state != StateOffline {
		sch.mu.Unlock()
		return
	}
	id := sch.ID
	paths := sch.lpm
	sch.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.VerifyTimeout)
	mask, err := s.rawio.VerifyPaths(ctx, id, paths)
	cancel()

	sch = dev.lock()
	defer sch.mu.Unlock()
	switch {
	case err == nil:
		sch.lpm = mask
	case errors.Is(err, ErrNoPath), errors.Is(err, ErrTimeout):
		sch.lpm = 0
		if dev.online {
			s.setDisconnectedLocked(dev)
		} else {
			s.fsmNotOper(dev, sch)
		}
	default:
		s.fsmNotOper(dev, sch)
	}
}

// doOnlineVerify performs the enable-and-verify half of SetOnline on
// the slow path. The caller is blocked in waitFinal.
func (s *Subsystem) doOnlineVerify(dev *Device) {
	sch := dev.lock()
	if dev.state != StateSenseID {
		sch.mu.Unlock()
		return
	}
	id := sch.ID
	paths := sch.lpm
	sch.config.Ena = true
	cfg := sch.config
	sch.mu.Unlock()

	if err := s.rawio.EnableSubchannel(id); err != nil {
		sch = dev.lock()
		s.fsmNotOper(dev, sch)
		sch.mu.Unlock()
		return
	}
	if err := s.rawio.CommitConfig(id, cfg); err != nil {
		s.log.Debug("config commit during online failed", "subchannel", id, "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.VerifyTimeout)
	mask, err := s.rawio.VerifyPaths(ctx, id, paths)
	cancel()

	sch = dev.lock()
	defer sch.mu.Unlock()
	switch {
	case err == nil:
		sch.lpm = mask
		dev.setState(StateOnline)
	case errors.Is(err, ErrNoPath):
		// No usable path: the online attempt fails, the device stays
		// offline and the caller reports the condition.
		dev.setState(StateOffline)
	case errors.Is(err, ErrTimeout):
		dev.setState(StateBoxed)
	default:
		s.fsmNotOper(dev, sch)
	}
}

// doQuiesce performs the offline half of SetOffline: disable the
// subchannel, cancelling in-flight I/O with a bounded grace period.
func (s *Subsystem) doQuiesce(dev *Device) {
	sch := dev.lock()
	if dev.state != StateQuiesce {
		sch.mu.Unlock()
		return
	}
	id := sch.ID
	sch.config.Ena = false
	sch.mu.Unlock()

	err := s.rawio.DisableSubchannel(id)
	if err != nil && errors.Is(err, ErrTimeout) {
		if hcErr := s.rawio.HaltClear(id); hcErr != nil {
			sch = dev.lock()
			s.setDeviceTimeout(dev, s.cfg.QuiesceGrace)
			sch.mu.Unlock()
			return
		}
		err = s.rawio.DisableSubchannel(id)
	}
	sch = dev.lock()
	defer sch.mu.Unlock()
	if dev.state != StateQuiesce {
		return
	}
	if err != nil {
		// Quiesce failed: roll back, the device stays online.
		dev.setState(StateOnline)
		return
	}
	dev.setState(StateOffline)
}
