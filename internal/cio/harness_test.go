package cio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRawIO is a scriptable hardware collaborator. Tests seed per
// subchannel responses; a boxed entry makes SenseID time out until a
// steal-lock clears it.
type fakeRawIO struct {
	mu         sync.Mutex
	status     map[SchID]PathStatus
	statusErr  map[SchID]error
	sense      map[SchID]DeviceInfo
	senseErr   map[SchID]error
	verify     map[SchID]uint8
	verifyErr  map[SchID]error
	disableErr map[SchID]error
	boxed      map[SchID]bool
	stealErr   error
	haltErr    error

	commits    map[SchID]SubchannelConfig
	haltClears int
	steals     int
}

func newFakeRawIO() *fakeRawIO {
	return &fakeRawIO{
		status:     make(map[SchID]PathStatus),
		statusErr:  make(map[SchID]error),
		sense:      make(map[SchID]DeviceInfo),
		senseErr:   make(map[SchID]error),
		verify:     make(map[SchID]uint8),
		verifyErr:  make(map[SchID]error),
		disableErr: make(map[SchID]error),
		boxed:      make(map[SchID]bool),
		commits:    make(map[SchID]SubchannelConfig),
	}
}

func (f *fakeRawIO) setStatus(id SchID, st PathStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = st
	delete(f.statusErr, id)
}

func (f *fakeRawIO) setStatusErr(id SchID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr[id] = err
}

func (f *fakeRawIO) setSense(id SchID, info DeviceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sense[id] = info
	delete(f.senseErr, id)
}

func (f *fakeRawIO) setSenseErr(id SchID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senseErr[id] = err
}

func (f *fakeRawIO) setVerifyErr(id SchID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr[id] = err
}

func (f *fakeRawIO) setBoxed(id SchID, boxed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boxed[id] = boxed
}

func (f *fakeRawIO) UpdateStatus(id SchID) (PathStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[id]; err != nil {
		return PathStatus{}, err
	}
	st, ok := f.status[id]
	if !ok {
		return PathStatus{}, ErrNotOperational
	}
	return st, nil
}

func (f *fakeRawIO) CommitConfig(id SchID, cfg SubchannelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[id] = cfg
	return nil
}

func (f *fakeRawIO) EnableSubchannel(SchID) error { return nil }

func (f *fakeRawIO) DisableSubchannel(id SchID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disableErr[id]
}

func (f *fakeRawIO) SenseID(_ context.Context, id SchID, _ uint8) (DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.boxed[id] {
		return DeviceInfo{}, ErrTimeout
	}
	if err := f.senseErr[id]; err != nil {
		return DeviceInfo{}, err
	}
	return f.sense[id], nil
}

func (f *fakeRawIO) VerifyPaths(_ context.Context, id SchID, paths uint8) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.verifyErr[id]; err != nil {
		return 0, err
	}
	if mask, ok := f.verify[id]; ok {
		return mask, nil
	}
	return paths, nil
}

func (f *fakeRawIO) HaltClear(SchID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haltClears++
	return f.haltErr
}

func (f *fakeRawIO) StealLock(_ context.Context, id SchID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steals++
	if f.stealErr != nil {
		return f.stealErr
	}
	delete(f.boxed, id)
	return nil
}

// fakeBus records subchannel handbacks and re-probe requests.
type fakeBus struct {
	mu     sync.Mutex
	gone   []SchID
	probed []DeviceID
}

func (b *fakeBus) SubchannelGone(sch *Subchannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gone = append(b.gone, sch.ID)
}

func (b *fakeBus) ProbeDevice(id DeviceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probed = append(b.probed, id)
	return nil
}

func (b *fakeBus) goneIDs() []SchID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SchID, len(b.gone))
	copy(out, b.gone)
	return out
}

// fakeDriver implements Driver with scriptable results.
type fakeDriver struct {
	mu         sync.Mutex
	name       string
	ids        []DriverID
	probeErr   error
	onlineErr  error
	offlineErr error
	keep       bool // Notify verdict

	probes    int
	removes   int
	onlines   int
	offlines  int
	shutdowns int
	notifies  []StatusEvent
}

func (d *fakeDriver) Name() string    { return d.name }
func (d *fakeDriver) IDs() []DriverID { return d.ids }

func (d *fakeDriver) Probe(*Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	return d.probeErr
}

func (d *fakeDriver) Remove(*Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removes++
}

func (d *fakeDriver) Shutdown(*Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdowns++
}

func (d *fakeDriver) SetOnline(*Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onlines++
	return d.onlineErr
}

func (d *fakeDriver) SetOffline(*Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offlines++
	return d.offlineErr
}

func (d *fakeDriver) Notify(_ *Device, ev StatusEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifies = append(d.notifies, ev)
	return d.keep
}

// recNotifier records lifecycle notifications.
type recNotifier struct {
	mu           sync.Mutex
	registered   []DeviceID
	unregistered []DeviceID
	transitions  []string
}

func (n *recNotifier) DeviceRegistered(dev *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, dev.ID)
}

func (n *recNotifier) DeviceUnregistered(dev *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unregistered = append(n.unregistered, dev.ID)
}

func (n *recNotifier) StateChanged(dev *Device, from, to State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, from.String()+">"+to.String())
}

func testConfig() Config {
	return Config{
		RecoveryDelays:     []time.Duration{5 * time.Millisecond, 20 * time.Millisecond},
		RecognitionTimeout: time.Second,
		VerifyTimeout:      time.Second,
		QuiesceGrace:       10 * time.Millisecond,
	}
}

func newTestSubsystem(t *testing.T) (*Subsystem, *fakeRawIO, *fakeBus) {
	t.Helper()
	raw := newFakeRawIO()
	bus := &fakeBus{}
	s := New(Deps{RawIO: raw, Bus: bus, Config: testConfig()})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, raw, bus
}

var testInfo = DeviceInfo{CUType: 0x3990, CUModel: 0x0c, DevType: 0x3390, DevModel: 0x0a}

// probeDevice seeds a healthy subchannel, probes it and waits for
// recognition to settle. Returns the subchannel and the device.
func probeDevice(t *testing.T, s *Subsystem, raw *fakeRawIO, schno, devno uint16) (*Subchannel, *Device) {
	t.Helper()
	schID := SchID{SSID: 0, Number: schno}
	raw.setStatus(schID, PathStatus{DNV: true, Devno: devno, PIM: 0x80, PAM: 0x80, POM: 0x80})
	raw.setSense(schID, testInfo)
	sch := NewSubchannel(schID)
	if err := s.Probe(sch); err != nil {
		t.Fatalf("probe: %v", err)
	}
	waitSettled(t, s)
	dev := s.Registry().Device(DeviceID{SSID: 0, Devno: devno})
	if dev == nil {
		t.Fatalf("device 0.0.%04x not registered after probe", devno)
	}
	return sch, dev
}

func waitSettled(t *testing.T, s *Subsystem) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitInitialized(ctx); err != nil {
		t.Fatalf("wait initialized: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func wantErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}
