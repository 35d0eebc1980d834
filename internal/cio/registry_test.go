package cio

import (
	"testing"
	"time"
)

func TestPoolClassification(t *testing.T) {
	s, raw, _ := hourDelays(t)
	_, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	reg := s.Registry()

	if got := reg.PoolOf(dev); got != PoolBound {
		t.Fatalf("pool = %v, want bound", got)
	}

	lk := dev.lock()
	s.setDisconnectedLocked(dev)
	lk.mu.Unlock()
	if got := reg.PoolOf(dev); got != PoolDisconnected {
		t.Fatalf("pool = %v, want disconnected", got)
	}

	if err := s.move(dev, reg.Orphanage()); err != nil {
		t.Fatalf("move to orphanage: %v", err)
	}
	if got := reg.PoolOf(dev); got != PoolOrphaned {
		t.Fatalf("pool = %v, want orphaned", got)
	}
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	reg := NewRegistry()
	a := newDevice(DeviceID{Devno: 0x1000}, nil)
	a.parent.Store(reg.Orphanage())
	b := newDevice(DeviceID{Devno: 0x1000}, nil)
	b.parent.Store(reg.Orphanage())

	if !reg.register(a) {
		t.Fatal("first registration rejected")
	}
	if reg.register(b) {
		t.Fatal("duplicate identity accepted")
	}
	if !reg.register(a) {
		t.Fatal("re-registering the owner rejected")
	}
	if reg.unregister(b) {
		t.Fatal("unregister succeeded for non-owner")
	}
	if !reg.unregister(a) {
		t.Fatal("unregister rejected for owner")
	}
}

func TestFindDisconnectedExcludesSibling(t *testing.T) {
	s, raw, _ := hourDelays(t)
	_, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	lk := dev.lock()
	s.setDisconnectedLocked(dev)
	lk.mu.Unlock()

	if got := s.Registry().FindDisconnected(dev.ID, dev); got != nil {
		got.put()
		t.Fatal("lookup matched the excluded sibling")
	}
	got := s.Registry().FindDisconnected(dev.ID, nil)
	if got != dev {
		t.Fatal("lookup missed the disconnected device")
	}
	refs := dev.Refs()
	got.put()
	if dev.Refs() != refs-1 {
		t.Fatal("lookup reference not released by put")
	}
}

func TestFindDisconnectedSkipsBoundDevice(t *testing.T) {
	s, raw, _ := newTestSubsystem(t)
	_, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	if got := s.Registry().FindDisconnected(dev.ID, nil); got != nil {
		got.put()
		t.Fatal("lookup matched a bound offline device")
	}
}

func TestFindOrphan(t *testing.T) {
	s, raw, _ := hourDelays(t)
	_, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	if got := s.Registry().FindOrphan(dev.ID); got != nil {
		got.put()
		t.Fatal("orphan lookup matched a bound device")
	}
	if err := s.move(dev, s.Registry().Orphanage()); err != nil {
		t.Fatalf("move to orphanage: %v", err)
	}
	got := s.Registry().FindOrphan(dev.ID)
	if got != dev {
		t.Fatal("orphan lookup missed the parked device")
	}
	got.put()
}

func TestRemoveSubchannelUnregistersDevice(t *testing.T) {
	s, raw, _ := newTestSubsystem(t)
	sch, dev := probeDevice(t, s, raw, 0x0001, 0x1000)

	s.Remove(sch)
	if s.Registry().Device(dev.ID) != nil {
		t.Fatal("device survived subchannel removal")
	}
	if got := dev.State(); got != StateNotOper {
		t.Fatalf("state = %v, want not_operational", got)
	}
	waitFor(t, time.Second, func() bool {
		for _, known := range s.Registry().Subchannels() {
			if known == sch {
				return false
			}
		}
		return true
	}, "subchannel still listed after removal")
}
