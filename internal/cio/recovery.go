package cio

import (
	"sync"
	"time"
)

// recoveryScheduler drives the backoff sweep over disconnected devices.
// One timer serves the whole subsystem: arming while a later phase is
// pending rewinds to phase 0, so a fresh disconnect always gets the
// short delay first.
type recoveryScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	timer   *time.Timer
	phase   int
	pending bool
	stopped bool
	fire    func()
}

func newRecoveryScheduler(delays []time.Duration, fire func()) *recoveryScheduler {
	return &recoveryScheduler{delays: delays, fire: fire}
}

// schedule arms the sweep at phase 0. A timer already pending at phase
// 0 is left alone.
func (r *recoveryScheduler) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.pending && r.phase == 0 {
		return
	}
	r.phase = 0
	r.arm()
}

// redo advances to the next phase, capped at the last delay, and
// rearms. The sweep calls this when stragglers remain.
func (r *recoveryScheduler) redo() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.pending {
		return
	}
	if r.phase < len(r.delays)-1 {
		r.phase++
	}
	r.arm()
}

// arm starts the timer for the current phase. Callers hold r.mu.
func (r *recoveryScheduler) arm() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.pending = true
	r.timer = time.AfterFunc(r.delays[r.phase], r.expired)
}

func (r *recoveryScheduler) expired() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.mu.Unlock()
	r.fire()
}

// idle reports whether no sweep is pending. For tests and diagnostics.
func (r *recoveryScheduler) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.pending
}

func (r *recoveryScheduler) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.pending = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// doSweep walks the registered devices looking for disconnected ones
// worth retrying. Each disconnected device gets a verify event; a
// device still mid sense-id just keeps the timer alive. When nothing is
// left to retry the scheduler idles until the next disconnect.
func (s *Subsystem) doSweep() {
	redo := false
	s.reg.ForEachDevice(func(dev *Device) {
		sch := dev.lock()
		switch dev.state {
		case StateDisconnected:
			s.eventLocked(dev, sch, EventVerify)
			redo = true
		case StateDisconnectedSenseID:
			redo = true
		}
		sch.mu.Unlock()
	})
	if redo {
		s.recovery.redo()
	} else {
		s.log.Debug("recovery sweep idle")
	}
}
