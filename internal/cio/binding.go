package cio

// Binding protocol: devices outlive their subchannel binding. A device
// moves between subchannels (or into the orphanage) with both parent
// locks held, new parent pinned before the old one is released. Any
// failure leaves the original binding untouched.

// schBefore orders two subchannels for deadlock-free double locking.
// Registry IDs are unique, so the ID order is total.
func schBefore(a, b *Subchannel) bool {
	if a.ID.SSID != b.ID.SSID {
		return a.ID.SSID < b.ID.SSID
	}
	return a.ID.Number < b.ID.Number
}

func lockPair(a, b *Subchannel) {
	if schBefore(a, b) {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *Subchannel) {
	a.mu.Unlock()
	b.mu.Unlock()
}

// move rebinds dev to the subchannel to. The new parent is pinned
// before anything else changes; on any failure the pin is dropped and
// the old binding stays as it was. The old parent's pin transfers out
// when the swap commits.
func (s *Subsystem) move(dev *Device, to *Subchannel) error {
	to.get()
	for {
		from := dev.parent.Load()
		if from == to {
			to.put()
			return nil
		}
		lockPair(from, to)
		if dev.parent.Load() != from {
			// Lost a race with another move; retry against the new
			// parent.
			unlockPair(from, to)
			continue
		}
		if !to.IsPseudo() && to.dev != nil && to.dev != dev {
			unlockPair(from, to)
			to.put()
			return ErrSubchannelBound
		}
		if from.dev == dev {
			from.setDevice(nil)
		}
		if !to.IsPseudo() {
			to.setDevice(dev)
		}
		dev.parent.Store(to)
		unlockPair(from, to)
		from.put()
		return nil
	}
}

// attachExisting binds a previously known device (disconnected or
// orphaned) to a newly probed subchannel. The former subchannel, now
// device-less, is handed back to the bus. Slow-path context.
func (s *Subsystem) attachExisting(sch *Subchannel, dev *Device) {
	former := dev.Subchannel()
	if err := s.move(dev, sch); err != nil {
		// Somebody claimed the subchannel first; the device keeps its
		// old binding and stays in its pool.
		s.log.Warn("device rebind failed",
			"device", dev.ID, "subchannel", sch.ID, "error", err)
		return
	}
	s.log.Info("device rebound",
		"device", dev.ID, "subchannel", sch.ID)
	if former != sch && !former.IsPseudo() {
		s.scheduleRemoval(former)
	}
	// The path snapshot of the new subchannel is fresh from the probe;
	// rerun recognition to confirm the identity still matches.
	cur := dev.lock()
	if cur != sch {
		// Moved again already; the later move owns recognition.
		cur.mu.Unlock()
		return
	}
	disconnected := dev.state == StateDisconnected || dev.state == StateDisconnectedSenseID
	s.startRecognition(dev, sch, disconnected)
	cur.mu.Unlock()
}

// doMoveToOrphanage parks a device whose subchannel now reports a
// different device number. The subchannel's new identity is resolved
// against the disconnected and orphan pools, falling back to a fresh
// device. Slow-path context.
func (s *Subsystem) doMoveToOrphanage(dev *Device) {
	sch := dev.Subchannel()
	if sch.IsPseudo() {
		return
	}
	newID, dnv := sch.DeviceID()
	if err := s.move(dev, s.reg.Orphanage()); err != nil {
		s.log.Error("orphanage move failed", "device", dev.ID, "error", err)
		return
	}
	orph := dev.lock()
	if dev.state != StateDisconnected && dev.state != StateDisconnectedSenseID {
		dev.setState(StateDisconnected)
	}
	orph.mu.Unlock()
	s.log.Info("device orphaned",
		"device", dev.ID, "subchannel", sch.ID, "reported", newID)

	if !dnv {
		s.scheduleRemoval(sch)
		return
	}
	s.resolveReplacement(sch, newID, dev)
}

// resolveReplacement finds the device that should serve the identity a
// subchannel now reports: first the disconnected pool, then the
// orphanage, finally a fresh device. sibling is excluded so a device
// never replaces itself.
func (s *Subsystem) resolveReplacement(sch *Subchannel, id DeviceID, sibling *Device) {
	if cand := s.reg.FindDisconnected(id, sibling); cand != nil {
		s.attachExisting(sch, cand)
		cand.put()
		return
	}
	if cand := s.reg.FindOrphan(id); cand != nil {
		s.attachExisting(sch, cand)
		cand.put()
		return
	}
	s.createAndRecognize(sch)
}
