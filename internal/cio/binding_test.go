package cio

import (
	"testing"
	"time"
)

func hourDelays(t *testing.T) (*Subsystem, *fakeRawIO, *fakeBus) {
	t.Helper()
	cfg := testConfig()
	cfg.RecoveryDelays = []time.Duration{time.Hour}
	return newTestSubsystemCfg(t, cfg)
}

func TestDisconnectedDeviceRebindsToNewSubchannel(t *testing.T) {
	s, raw, bus := hourDelays(t)
	s1, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	if err := s.SetOnline(dev); err != nil {
		t.Fatalf("set online: %v", err)
	}

	lk := dev.lock()
	s.setDisconnectedLocked(dev)
	lk.mu.Unlock()

	// The platform hands the device number to a different subchannel.
	s2ID := SchID{Number: 0x0002}
	raw.setStatus(s2ID, PathStatus{DNV: true, Devno: 0x1000, PIM: 0x80, PAM: 0x80, POM: 0x80})
	raw.setSense(s2ID, testInfo)
	s2 := NewSubchannel(s2ID)
	if err := s.Probe(s2); err != nil {
		t.Fatalf("probe: %v", err)
	}
	waitSettled(t, s)

	if dev.Subchannel() != s2 {
		t.Fatal("device not rebound to the new subchannel")
	}
	// Online intent survives the rebind; recognition brings it back up.
	if got := dev.State(); got != StateOnline {
		t.Fatalf("state = %v, want online after rebind", got)
	}
	if got := s.Registry().Device(dev.ID); got != dev {
		t.Fatal("identity resolved to a different device object")
	}
	waitFor(t, time.Second, func() bool {
		for _, id := range bus.goneIDs() {
			if id == s1.ID {
				return true
			}
		}
		return false
	}, "vacated subchannel not handed back")
}

func TestMoveConflictKeepsBinding(t *testing.T) {
	s, raw, _ := hourDelays(t)
	s1, devA := probeDevice(t, s, raw, 0x0001, 0x1000)
	s2, _ := probeDevice(t, s, raw, 0x0002, 0x2000)
	holds := s2.Holds()

	wantErrIs(t, s.move(devA, s2), ErrSubchannelBound)
	if devA.Subchannel() != s1 {
		t.Fatal("failed move changed the binding")
	}
	if s1.Device() != devA {
		t.Fatal("failed move cleared the old binding")
	}
	if got := s2.Holds(); got != holds {
		t.Fatalf("target subchannel holds = %d, want %d (pin released)", got, holds)
	}
}

func TestMoveToSameSubchannelIsNoop(t *testing.T) {
	s, raw, _ := hourDelays(t)
	s1, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	holds := s1.Holds()
	if err := s.move(dev, s1); err != nil {
		t.Fatalf("move to current parent: %v", err)
	}
	if got := s1.Holds(); got != holds {
		t.Fatalf("holds = %d, want %d", got, holds)
	}
}

func TestRenumberDisplacesBoundDevice(t *testing.T) {
	s, raw, bus := hourDelays(t)
	s.RegisterDriver(&fakeDriver{name: "dasd", ids: []DriverID{{CUType: testInfo.CUType}}, keep: true})

	// Device A, disconnected, previously served 0.0.1000 on S1.
	s1, devA := probeDevice(t, s, raw, 0x0001, 0x1000)
	lk := devA.lock()
	s.setDisconnectedLocked(devA)
	lk.mu.Unlock()

	// Device B is online on S2 until the platform renumbers S2 to
	// 0.0.1000.
	s2, devB := probeDevice(t, s, raw, 0x0002, 0x2000)
	if err := s.SetOnline(devB); err != nil {
		t.Fatalf("set online: %v", err)
	}
	raw.setStatus(s2.ID, PathStatus{DNV: true, Devno: 0x1000, PIM: 0x80, PAM: 0x80, POM: 0x80})

	if err := s.SchEvent(s2, true); err != nil {
		t.Fatalf("sch event: %v", err)
	}
	waitSettled(t, s)

	if devA.Subchannel() != s2 {
		t.Fatal("disconnected device not rebound to the renumbered subchannel")
	}
	if got := s.Registry().PoolOf(devB); got != PoolOrphaned {
		t.Fatalf("displaced device pool = %v, want orphaned", got)
	}
	if got := s.Availability(devB); got != "no device" {
		t.Fatalf("orphan availability = %q, want no device", got)
	}
	waitFor(t, time.Second, func() bool {
		for _, id := range bus.goneIDs() {
			if id == s1.ID {
				return true
			}
		}
		return false
	}, "vacated subchannel not handed back")
}

func TestOrphanReclaimedWhenIdentityReturns(t *testing.T) {
	s, raw, _ := hourDelays(t)
	s.RegisterDriver(&fakeDriver{name: "dasd", ids: []DriverID{{CUType: testInfo.CUType}}, keep: true})
	s1, dev := probeDevice(t, s, raw, 0x0001, 0x1000)
	if err := s.SetOnline(dev); err != nil {
		t.Fatalf("set online: %v", err)
	}

	// S1 renumbers to an unknown identity: dev is orphaned and a fresh
	// device is created for the newcomer.
	raw.setStatus(s1.ID, PathStatus{DNV: true, Devno: 0x3000, PIM: 0x80, PAM: 0x80, POM: 0x80})
	if err := s.SchEvent(s1, true); err != nil {
		t.Fatalf("sch event: %v", err)
	}
	waitSettled(t, s)
	if got := s.Registry().PoolOf(dev); got != PoolOrphaned {
		t.Fatalf("pool = %v, want orphaned", got)
	}
	if s.Registry().Device(DeviceID{Devno: 0x3000}) == nil {
		t.Fatal("no device created for the new identity")
	}

	// The old identity reappears on S2: the orphan is reclaimed.
	s2ID := SchID{Number: 0x0002}
	raw.setStatus(s2ID, PathStatus{DNV: true, Devno: 0x1000, PIM: 0x80, PAM: 0x80, POM: 0x80})
	raw.setSense(s2ID, testInfo)
	s2 := NewSubchannel(s2ID)
	if err := s.Probe(s2); err != nil {
		t.Fatalf("probe: %v", err)
	}
	waitSettled(t, s)

	if dev.Subchannel() != s2 {
		t.Fatal("orphan not reclaimed by the returning identity")
	}
	if got := s.Registry().PoolOf(dev); got != PoolBound {
		t.Fatalf("pool = %v, want bound after reclaim", got)
	}
	if got := dev.State(); got != StateOnline {
		t.Fatalf("state = %v, want online after reclaim", got)
	}
}
