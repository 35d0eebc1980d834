package cio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the operational status of a device in the state machine.
type State int

// Device states. SenseID covers recognition in progress; the
// disconnected variant is recognition re-run for a device that lost all
// paths while online.
const (
	StateNotOper State = iota
	StateSenseID
	StateDisconnectedSenseID
	StateOffline
	StateOnline
	StateDisconnected
	StateBoxed
	StateClearVerify
	StateQuiesce
)

var stateNames = map[State]string{
	StateNotOper:             "not_operational",
	StateSenseID:             "sense_id",
	StateDisconnectedSenseID: "disconnected_sense_id",
	StateOffline:             "offline",
	StateOnline:              "online",
	StateDisconnected:        "disconnected",
	StateBoxed:               "boxed",
	StateClearVerify:         "clear_verify",
	StateQuiesce:             "quiesce",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// final reports whether admin callers waiting for the machine to settle
// may proceed.
func (s State) final() bool {
	switch s {
	case StateNotOper, StateOffline, StateOnline, StateBoxed:
		return true
	default:
		return false
	}
}

// Handler is the interrupt-completion callback of a pending operation.
// It receives the correlation token the operation was started with and
// nil on success, a transient error when the operation should be
// retried, or ErrNotOperational when the device is gone for good.
type Handler func(dev *Device, token uuid.UUID, err error)

// deviceFlags is the pending-operation bookkeeping, guarded by the
// device lock.
type deviceFlags struct {
	recogDone bool // recognition finished (success or not)
	intRetry  bool // internal operation was cancelled, retry it
	doneNotif bool // terminal handler notification already delivered
}

// Device represents one logical I/O device. Its identity is assigned on
// creation and survives subchannel renumbering; the bound subchannel is
// incidental and changes via the binding protocol.
type Device struct {
	ID DeviceID

	// parent is the owning subchannel (the orphanage placeholder while
	// orphaned, never nil after attach). Swapped only while both the
	// old and the new parent locks are held.
	parent atomic.Pointer[Subchannel]

	refs    atomic.Int64
	release func(*Device)

	// admin is the single-flight guard for administrative requests.
	admin atomic.Bool

	// Everything below is guarded by the delegated device lock.
	state   State
	online  bool // administrative intent
	info    DeviceInfo
	drv     Driver
	token   uuid.UUID // correlation token of the pending operation
	handler Handler
	timer   *time.Timer
	flags   deviceFlags

	// waitMu/waitCond implement the blocking admin calls. Deliberately
	// separate from the delegated lock so waiters survive lock swaps
	// during move operations.
	waitMu   sync.Mutex
	waitCond *sync.Cond
	// waitState and waitRecog mirror state/recognition progress for
	// the condition predicates; kept here so waiters never need the
	// delegated lock.
	waitState State
	waitRecog bool

	// onStateChange is the subsystem's notification hook, invoked on
	// every effective transition. Must not block.
	onStateChange func(dev *Device, from, to State)
}

func newDevice(id DeviceID, release func(*Device)) *Device {
	d := &Device{ID: id, release: release, state: StateNotOper, waitState: StateNotOper}
	d.waitCond = sync.NewCond(&d.waitMu)
	d.refs.Store(1)
	return d
}

// lock acquires the device's delegated lock and returns the subchannel
// that provided it. The loop handles a concurrent parent swap: a move
// holds both parent locks, so re-checking after acquisition is enough.
func (d *Device) lock() *Subchannel {
	for {
		sch := d.parent.Load()
		sch.mu.Lock()
		if d.parent.Load() == sch {
			return sch
		}
		sch.mu.Unlock()
	}
}

// get takes a device reference for an asynchronous handoff. Every get
// is paired with exactly one put.
func (d *Device) get() bool {
	for {
		n := d.refs.Load()
		if n <= 0 {
			return false
		}
		if d.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (d *Device) put() {
	if d.refs.Add(-1) == 0 && d.release != nil {
		d.release(d)
	}
}

// Refs exposes the current reference count for tests and diagnostics.
func (d *Device) Refs() int64 { return d.refs.Load() }

// State returns the current FSM state.
func (d *Device) State() State {
	sch := d.lock()
	defer sch.mu.Unlock()
	return d.state
}

// Online reports the administrative intent flag.
func (d *Device) Online() bool {
	sch := d.lock()
	defer sch.mu.Unlock()
	return d.online
}

// Info returns the sensed identity descriptors. A zero CUType means
// recognition has not completed.
func (d *Device) Info() DeviceInfo {
	sch := d.lock()
	defer sch.mu.Unlock()
	return d.info
}

// Driver returns the bound driver, or nil.
func (d *Device) Driver() Driver {
	sch := d.lock()
	defer sch.mu.Unlock()
	return d.drv
}

// Subchannel returns the currently owning subchannel. For an orphaned
// device this is the orphanage placeholder.
func (d *Device) Subchannel() *Subchannel { return d.parent.Load() }

// SetHandler installs the interrupt-completion handler and correlation
// token for the next operation. Driver code calls this before starting
// I/O through the raw layer.
func (d *Device) SetHandler(h Handler) uuid.UUID {
	sch := d.lock()
	defer sch.mu.Unlock()
	d.handler = h
	d.token = uuid.New()
	return d.token
}

// setState transitions the FSM state. Callers hold the device lock.
// Waiters on waitFinal are woken whenever the state changes.
func (d *Device) setState(st State) {
	from := d.state
	d.state = st
	d.waitMu.Lock()
	d.waitState = st
	d.waitMu.Unlock()
	d.waitCond.Broadcast()
	if d.onStateChange != nil && from != st {
		d.onStateChange(d, from, st)
	}
}

// waitFinal blocks the caller until the FSM reaches a stable state.
// Called without the device lock held.
func (d *Device) waitFinal() {
	d.waitMu.Lock()
	for !d.waitState.final() {
		d.waitCond.Wait()
	}
	d.waitMu.Unlock()
}

// markRecogDone records recognition completion. Callers hold the
// device lock.
func (d *Device) markRecogDone() {
	d.flags.recogDone = true
	d.waitMu.Lock()
	d.waitRecog = true
	d.waitMu.Unlock()
	d.waitCond.Broadcast()
}

// waitRecogDone blocks until recognition has finished one way or the
// other. markRecogDone signals via the same condition variable.
func (d *Device) waitRecogDone() {
	d.waitMu.Lock()
	for !d.waitRecog {
		d.waitCond.Wait()
	}
	d.waitMu.Unlock()
}

// stopTimer cancels the pending-operation timer. A successfully
// stopped timer releases the reference its callback would have. Callers
// hold the device lock.
func (d *Device) stopTimer() {
	if d.timer != nil {
		if d.timer.Stop() {
			d.put()
		}
		d.timer = nil
	}
}

// callHandler delivers a completion result to the pending handler, if
// any. Callers hold the device lock; the handler itself runs without it.
func (d *Device) callHandler(err error) {
	h := d.handler
	token := d.token
	if h == nil {
		return
	}
	d.handler = nil
	go h(d, token, err)
}
