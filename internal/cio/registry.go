package cio

import "sync"

// Pool names the registry pool a device currently resides in. Exactly
// one of the three holds for any device at any observation point.
type Pool string

const (
	// PoolBound: reachable through an operational subchannel binding.
	PoolBound Pool = "bound"
	// PoolDisconnected: subchannel lost all paths, identity presumed
	// stable, awaiting recovery.
	PoolDisconnected Pool = "disconnected"
	// PoolOrphaned: original subchannel number was reassigned; parked
	// under the orphanage placeholder pending re-matching.
	PoolOrphaned Pool = "orphaned"
)

// Registry tracks subchannels and registered devices and answers the
// identity lookups the binding protocol needs. Lock order: Registry.mu
// before any subchannel lock.
type Registry struct {
	mu          sync.RWMutex
	subchannels map[SchID]*Subchannel
	devices     map[DeviceID]*Device
	orphanage   *Subchannel
}

// NewRegistry creates an empty registry with its orphanage placeholder.
// The orphanage is a synthetic always-present subchannel: it provides
// the delegated lock for orphaned devices and never reaches hardware.
func NewRegistry() *Registry {
	orphanage := NewSubchannel(SchID{SSID: 0, Number: 0xffff})
	orphanage.pseudo = true
	return &Registry{
		subchannels: make(map[SchID]*Subchannel),
		devices:     make(map[DeviceID]*Device),
		orphanage:   orphanage,
	}
}

// Orphanage returns the placeholder subchannel for orphaned devices.
func (r *Registry) Orphanage() *Subchannel { return r.orphanage }

// insertSubchannel makes a subchannel visible to lookups.
func (r *Registry) insertSubchannel(sch *Subchannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subchannels[sch.ID] = sch
}

// removeSubchannel drops a subchannel from the registry. The discovery
// collaborator destroys the object afterwards.
func (r *Registry) removeSubchannel(sch *Subchannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subchannels[sch.ID] == sch {
		delete(r.subchannels, sch.ID)
	}
}

// register makes a device visible to identity lookups. Registration
// happens once recognition has settled, from the slow path. Returns
// false when a different device already owns the identity (duplicate
// registration guard).
func (r *Registry) register(dev *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[dev.ID]; ok && existing != dev {
		return false
	}
	r.devices[dev.ID] = dev
	return true
}

// unregister removes a device from lookups. Idempotent.
func (r *Registry) unregister(dev *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices[dev.ID] != dev {
		return false
	}
	delete(r.devices, dev.ID)
	return true
}

// registered reports whether the device is currently visible.
func (r *Registry) registered(dev *Device) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[dev.ID] == dev
}

// PoolOf classifies the pool a device currently resides in.
func (r *Registry) PoolOf(dev *Device) Pool {
	if dev.parent.Load() == r.orphanage {
		return PoolOrphaned
	}
	sch := dev.lock()
	st := dev.state
	sch.mu.Unlock()
	if st == StateDisconnected || st == StateDisconnectedSenseID {
		return PoolDisconnected
	}
	return PoolBound
}

// FindDisconnected searches the disconnected pool for a device with the
// given identity, excluding sibling (so replacement resolution never
// matches a device against itself). The returned device carries an
// extra reference; callers pair it with put().
func (r *Registry) FindDisconnected(id DeviceID, sibling *Device) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dev := range r.devices {
		if dev == sibling || dev.ID != id {
			continue
		}
		if dev.parent.Load() == r.orphanage {
			continue
		}
		sch := dev.lock()
		disc := dev.state == StateDisconnected || dev.state == StateDisconnectedSenseID
		sch.mu.Unlock()
		if disc && dev.get() {
			return dev
		}
	}
	return nil
}

// FindOrphan searches the orphanage for a device with the given
// identity. The returned device carries an extra reference.
func (r *Registry) FindOrphan(id DeviceID) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dev := range r.devices {
		if dev.ID == id && dev.parent.Load() == r.orphanage && dev.get() {
			return dev
		}
	}
	return nil
}

// ForEachDevice runs fn over a snapshot of registered devices. Used by
// the recovery sweep and the blacklist purge; fn runs without registry
// locks held, so it may take device locks freely.
func (r *Registry) ForEachDevice(fn func(*Device)) {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	r.mu.RUnlock()
	for _, dev := range devices {
		fn(dev)
	}
}

// Devices returns a snapshot of registered devices.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	return out
}

// Device looks up a registered device by identity.
func (r *Registry) Device(id DeviceID) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// Subchannels returns a snapshot of known subchannels.
func (r *Registry) Subchannels() []*Subchannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subchannel, 0, len(r.subchannels))
	for _, sch := range r.subchannels {
		out = append(out, sch)
	}
	return out
}
