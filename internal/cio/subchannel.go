package cio

import (
	"sync"
	"sync/atomic"
)

// SubchannelConfig is the committed hardware configuration of a
// subchannel. Intparm carries the correlation token of the pending
// operation; it is reset to zero when the binding is torn down.
type SubchannelConfig struct {
	Ena           bool
	Intparm       uint32
	MP            bool
	ConcurrentSns bool
}

// Subchannel represents one hardware path-multiplexing unit. At most one
// Device is bound at a time. The discovery collaborator creates and
// destroys subchannels; this package only maintains the binding field,
// the path masks and the committed configuration.
//
// The subchannel mutex doubles as the lock of whichever device is
// currently bound here (lock delegation, see package doc).
type Subchannel struct {
	ID SchID

	mu   sync.Mutex
	refs atomic.Int64

	// Guarded by mu.
	dev    *Device
	pim    uint8 // installed paths
	pam    uint8 // available paths
	pom    uint8 // operational paths
	opm    uint8 // operational-path mask maintained by chp events
	lpm    uint8 // logical-path mask: pam & opm
	dnv    bool  // device-number-valid snapshot
	devno  uint16
	config SubchannelConfig

	// pseudo marks the synthetic orphanage placeholder. It never has
	// paths and is never committed to hardware.
	pseudo bool
}

// NewSubchannel creates a subchannel shell for the given id. The
// discovery collaborator fills in the path snapshot via InitFields
// before handing it to Subsystem.Probe.
func NewSubchannel(id SchID) *Subchannel {
	sch := &Subchannel{ID: id}
	sch.refs.Store(1)
	return sch
}

// InitFields seeds the path masks and device-number snapshot from a
// status block. opm starts as the operational mask reported by the
// platform; chp events adjust it afterwards.
func (sch *Subchannel) InitFields(st PathStatus) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.pim = st.PIM
	sch.pam = st.PAM
	sch.pom = st.POM
	sch.opm = st.POM
	sch.lpm = st.PAM & sch.opm
	sch.dnv = st.DNV
	sch.devno = st.Devno
	// Multipath mode when more than one path is installed.
	sch.config.MP = st.PIM&(st.PIM-1) != 0
	sch.config.ConcurrentSns = true
}

// Device returns the currently bound device, or nil.
func (sch *Subchannel) Device() *Device {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.dev
}

// DeviceID returns the identity the subchannel currently reports, and
// whether the device-number-valid flag is set.
func (sch *Subchannel) DeviceID() (DeviceID, bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return DeviceID{SSID: sch.ID.SSID, Devno: sch.devno}, sch.dnv
}

// Paths returns the current logical-path mask.
func (sch *Subchannel) Paths() uint8 {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.lpm
}

// PathMasks is a point-in-time snapshot of a subchannel's path masks.
type PathMasks struct {
	PIM uint8
	PAM uint8
	POM uint8
	OPM uint8
	LPM uint8
}

// Masks returns a snapshot of all five path masks.
func (sch *Subchannel) Masks() PathMasks {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return PathMasks{PIM: sch.pim, PAM: sch.pam, POM: sch.pom, OPM: sch.opm, LPM: sch.lpm}
}

// IsPseudo reports whether this is the orphanage placeholder.
func (sch *Subchannel) IsPseudo() bool { return sch.pseudo }

// get/put maintain the hold count used by the binding protocol. The
// discovery collaborator owns actual destruction; the count only
// guarantees a subchannel is pinned while a move is in flight.
func (sch *Subchannel) get() { sch.refs.Add(1) }
func (sch *Subchannel) put() { sch.refs.Add(-1) }

// Holds exposes the current hold count for tests and diagnostics.
func (sch *Subchannel) Holds() int64 { return sch.refs.Load() }

// setDevice updates the binding field. Callers hold sch.mu.
func (sch *Subchannel) setDevice(dev *Device) { sch.dev = dev }

// applyStatus refreshes the snapshot fields from a fresh status block.
// Callers hold sch.mu.
func (sch *Subchannel) applyStatus(st PathStatus) {
	sch.pim = st.PIM
	sch.pam = st.PAM
	sch.pom = st.POM
	sch.lpm = st.PAM & sch.opm
	sch.dnv = st.DNV
	sch.devno = st.Devno
}
