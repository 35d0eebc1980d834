package cio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the subsystem.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus is the subchannel discovery collaborator. The core calls back
// into it when it is done with a subchannel or wants an identity
// re-evaluated.
type Bus interface {
	// SubchannelGone tells the collaborator the core no longer uses the
	// subchannel; the collaborator destroys the object.
	SubchannelGone(sch *Subchannel)

	// ProbeDevice asks the collaborator to re-discover the subchannel
	// currently serving the given identity (after unregister-then-probe).
	ProbeDevice(id DeviceID) error
}

// Notifier receives lifecycle events (the uevent surface). Callbacks
// must not block and must not call back into the subsystem; the MQTT,
// journal and websocket fan-outs all enqueue internally.
type Notifier interface {
	DeviceRegistered(dev *Device)
	DeviceUnregistered(dev *Device)
	StateChanged(dev *Device, from, to State)
}

// Config tunes the core. Zero values get defaults.
type Config struct {
	// RecoveryDelays is the backoff schedule for disconnected-device
	// retries. Default 3s/30s/300s.
	RecoveryDelays []time.Duration

	// Workers and QueueDepth size the slow-path executor. The default
	// single worker keeps deferred operations serialized.
	Workers    int
	QueueDepth int

	// RecognitionTimeout bounds one sense-id attempt.
	RecognitionTimeout time.Duration

	// VerifyTimeout bounds one path-verification attempt.
	VerifyTimeout time.Duration

	// QuiesceGrace bounds waiting for a clear-in-progress device
	// during shutdown.
	QuiesceGrace time.Duration

	// Blacklist lists device identities to be purged when offline.
	Blacklist []DeviceID
}

func (c *Config) applyDefaults() {
	if len(c.RecoveryDelays) == 0 {
		c.RecoveryDelays = []time.Duration{3 * time.Second, 30 * time.Second, 300 * time.Second}
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RecognitionTimeout <= 0 {
		c.RecognitionTimeout = 10 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 10 * time.Second
	}
	if c.QuiesceGrace <= 0 {
		c.QuiesceGrace = 100 * time.Millisecond
	}
}

// Deps holds the collaborators the subsystem needs.
type Deps struct {
	RawIO    RawIO
	Bus      Bus
	Notifier Notifier // optional
	Config   Config
}

// Subsystem is the process-wide context object: registry, recovery
// timer, worker dispatch and driver table. Everything in this package
// operates on one of these; there is no package-level mutable state.
type Subsystem struct {
	log      Logger
	rawio    RawIO
	bus      Bus
	notifier Notifier
	cfg      Config

	reg      *Registry
	workq    *workqueue
	recovery *recoveryScheduler

	driverMu sync.RWMutex
	drivers  []Driver

	// initCount tracks devices currently in recognition, for
	// WaitInitialized at subsystem start.
	initCount atomic.Int64
	initMu    sync.Mutex
	initCond  *sync.Cond

	stopped atomic.Bool
}

// New constructs a subsystem. Start() must be called before any probe
// or event entry point.
func New(deps Deps) *Subsystem {
	cfg := deps.Config
	cfg.applyDefaults()
	s := &Subsystem{
		log:      noopLogger{},
		rawio:    deps.RawIO,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		cfg:      cfg,
		reg:      NewRegistry(),
	}
	s.initCond = sync.NewCond(&s.initMu)
	s.workq = newWorkqueue(cfg.Workers, cfg.QueueDepth, s.runTask)
	s.recovery = newRecoveryScheduler(cfg.RecoveryDelays, s.kickSweep)
	return s
}

// SetLogger sets the logger for the subsystem.
func (s *Subsystem) SetLogger(log Logger) { s.log = log }

// Registry exposes the registry for the API layer.
func (s *Subsystem) Registry() *Registry { return s.reg }

// Start launches the slow-path workers.
func (s *Subsystem) Start(_ context.Context) {
	s.workq.start()
}

// Stop idles the recovery timer and drains the worker pool. Probes and
// events submitted afterwards fail with ErrStopped.
func (s *Subsystem) Stop() {
	s.stopped.Store(true)
	s.recovery.stop()
	s.workq.stop()
}

// RegisterDriver adds a driver to the match table. Devices already
// registered without a driver are re-probed against it.
func (s *Subsystem) RegisterDriver(drv Driver) {
	s.driverMu.Lock()
	s.drivers = append(s.drivers, drv)
	s.driverMu.Unlock()
	s.reg.ForEachDevice(func(dev *Device) {
		sch := dev.lock()
		unbound := dev.drv == nil && dev.info.CUType != 0
		sch.mu.Unlock()
		if unbound {
			s.matchDriver(dev)
		}
	})
}

// matchDriver offers the device to the first driver with a matching
// identity entry. Called without the device lock held.
func (s *Subsystem) matchDriver(dev *Device) {
	info := dev.Info()
	s.driverMu.RLock()
	drivers := make([]Driver, len(s.drivers))
	copy(drivers, s.drivers)
	s.driverMu.RUnlock()
	for _, drv := range drivers {
		for _, id := range drv.IDs() {
			if !id.matches(info) {
				continue
			}
			if err := drv.Probe(dev); err != nil {
				s.log.Warn("driver probe failed",
					"driver", drv.Name(), "device", dev.ID, "error", err)
				continue
			}
			sch := dev.lock()
			dev.drv = drv
			sch.mu.Unlock()
			return
		}
	}
}

// WaitInitialized blocks until all devices found so far have finished
// recognition and the deferred registration work has drained. Called
// once at daemon startup after the initial discovery pass.
func (s *Subsystem) WaitInitialized(ctx context.Context) error {
	done := make(chan struct{})
	abandoned := false
	go func() {
		s.initMu.Lock()
		for s.initCount.Load() > 0 && !abandoned {
			s.initCond.Wait()
		}
		quit := abandoned
		s.initMu.Unlock()
		if !quit {
			s.workq.drain()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so it does not outlive this call.
		s.initMu.Lock()
		abandoned = true
		s.initCond.Broadcast()
		s.initMu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Subsystem) initStarted() {
	s.initCount.Add(1)
}

func (s *Subsystem) initFinished() {
	if s.initCount.Add(-1) == 0 {
		s.initCond.Broadcast()
	}
}

// kick takes a device reference and enqueues a deferred operation. The
// reference is released when the task completes. Submissions that fail
// (stopped subsystem, full queue) are structural failures: logged, and
// the reference is returned immediately.
func (s *Subsystem) kick(kind opKind, dev *Device, sch *Subchannel) bool {
	if dev != nil && !dev.get() {
		return false
	}
	if !s.workq.submit(task{kind: kind, dev: dev, sch: sch}) {
		s.log.Error("deferred operation dropped", "op", kind.String())
		if dev != nil {
			dev.put()
		}
		return false
	}
	return true
}

func (s *Subsystem) kickSweep() {
	if s.stopped.Load() {
		return
	}
	if !s.workq.submit(task{kind: opSweep}) {
		s.log.Error("recovery sweep dropped")
	}
}

// runTask dispatches one deferred operation.
func (s *Subsystem) runTask(t task) {
	switch t.kind {
	case opRecognize:
		s.doRecognize(t.dev)
	case opRegister:
		s.doRegister(t.dev)
	case opUnregisterSch:
		s.unregisterSubchannel(t.sch)
	case opRemoveOrphan:
		s.doRemoveOrphan(t.dev)
	case opMoveToSch:
		s.attachExisting(t.sch, t.dev)
	case opOrphan:
		s.doMoveToOrphanage(t.dev)
	case opOnlineVerify:
		s.doOnlineVerify(t.dev)
	case opVerify:
		s.doVerify(t.dev)
	case opReprobe:
		s.doReprobe(t.dev)
	case opQuiesce:
		s.doQuiesce(t.dev)
	case opSweep:
		s.doSweep()
	}
	if t.dev != nil {
		t.dev.put()
	}
}

// newDevice creates a device bound to its first parent. The release
// callback fires when the last reference is dropped.
func (s *Subsystem) newDevice(id DeviceID, parent *Subchannel) *Device {
	dev := newDevice(id, func(d *Device) {
		// Drop the hold the device had on its final parent.
		d.parent.Load().put()
		s.log.Debug("device destroyed", "device", d.ID)
	})
	parent.get()
	dev.parent.Store(parent)
	dev.onStateChange = s.stateChanged
	return dev
}

func (s *Subsystem) stateChanged(dev *Device, from, to State) {
	if s.notifier != nil && from != to {
		s.notifier.StateChanged(dev, from, to)
	}
}

// Probe is the bus entry point for a newly discovered subchannel. It
// seeds the configuration, then looks for a matching disconnected or
// orphaned device before creating a fresh one. Slow-path context.
func (s *Subsystem) Probe(sch *Subchannel) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	st, err := s.rawio.UpdateStatus(sch.ID)
	if err != nil {
		s.scheduleRemoval(sch)
		return nil
	}
	sch.InitFields(st)
	sch.mu.Lock()
	cfg := sch.config
	sch.mu.Unlock()
	if err := s.rawio.CommitConfig(sch.ID, cfg); err != nil {
		s.log.Warn("subchannel config commit failed", "subchannel", sch.ID, "error", err)
		s.scheduleRemoval(sch)
		return nil
	}
	s.reg.insertSubchannel(sch)

	id, dnv := sch.DeviceID()
	if !dnv {
		s.scheduleRemoval(sch)
		return nil
	}
	// A fitting device may exist among the disconnected devices or in
	// the orphanage; move it here instead of creating a duplicate.
	if dev := s.reg.FindDisconnected(id, nil); dev != nil {
		s.kick(opMoveToSch, dev, sch)
		dev.put()
		return nil
	}
	if dev := s.reg.FindOrphan(id); dev != nil {
		s.kick(opMoveToSch, dev, sch)
		dev.put()
		return nil
	}
	s.createAndRecognize(sch)
	return nil
}

// createAndRecognize allocates a device for the subchannel and starts
// recognition. On failure the subchannel is scheduled for removal.
func (s *Subsystem) createAndRecognize(sch *Subchannel) {
	id, _ := sch.DeviceID()
	dev := s.newDevice(id, sch)
	sch.mu.Lock()
	if sch.dev != nil {
		sch.mu.Unlock()
		s.log.Error("probe raced an existing binding", "subchannel", sch.ID)
		dev.put()
		return
	}
	sch.setDevice(dev)
	s.startRecognition(dev, sch, false)
	sch.mu.Unlock()
}

// Remove is the bus entry point when a subchannel disappears outright.
// The bound device is forced not-operational and unregistered.
func (s *Subsystem) Remove(sch *Subchannel) {
	sch.mu.Lock()
	dev := sch.dev
	if dev == nil {
		sch.mu.Unlock()
		s.reg.removeSubchannel(sch)
		return
	}
	sch.setDevice(nil)
	s.setNotOperLocked(dev)
	sch.mu.Unlock()
	s.unregisterDevice(dev)
	s.reg.removeSubchannel(sch)
}

// Shutdown quiesces a subchannel during subsystem teardown. In-flight
// I/O is cancelled with a bounded grace period before the subchannel is
// disabled.
func (s *Subsystem) Shutdown(sch *Subchannel) {
	sch.mu.Lock()
	dev := sch.dev
	ena := sch.config.Ena
	sch.mu.Unlock()
	if dev != nil && dev.Online() {
		if drv := dev.Driver(); drv != nil {
			drv.Shutdown(dev)
		}
	}
	if !ena {
		return
	}
	err := s.rawio.DisableSubchannel(sch.ID)
	if err == nil || dev == nil {
		return
	}
	// Still busy: quiesce, cancel I/O, then retry the disable.
	sch.mu.Lock()
	dev.setState(StateQuiesce)
	dev.callHandler(ErrIO)
	sch.mu.Unlock()
	if err := s.rawio.HaltClear(sch.ID); err != nil {
		sch.mu.Lock()
		s.setDeviceTimeout(dev, s.cfg.QuiesceGrace)
		sch.mu.Unlock()
		dev.waitFinal()
	} else {
		sch.mu.Lock()
		if dev.state == StateQuiesce {
			dev.setState(StateOffline)
		}
		sch.mu.Unlock()
	}
	if err := s.rawio.DisableSubchannel(sch.ID); err != nil {
		s.log.Warn("subchannel disable failed during shutdown",
			"subchannel", sch.ID, "error", err)
	}
}

// scheduleRemoval hands a device-less subchannel back to the bus from
// the slow path.
func (s *Subsystem) scheduleRemoval(sch *Subchannel) {
	sch.get()
	if !s.workq.submit(task{kind: opUnregisterSch, sch: sch}) {
		sch.put()
		s.unregisterSubchannel(sch)
		return
	}
	sch.put()
}

// unregisterSubchannel tears down a subchannel: the bound device (if
// any) is unregistered, the committed interruption parameter is reset
// and the collaborator is told the object is free.
func (s *Subsystem) unregisterSubchannel(sch *Subchannel) {
	if sch == nil || sch.IsPseudo() {
		return
	}
	sch.mu.Lock()
	dev := sch.dev
	if dev != nil {
		sch.setDevice(nil)
		s.setNotOperLocked(dev)
	}
	sch.config.Intparm = 0
	sch.config.Ena = false
	cfg := sch.config
	sch.mu.Unlock()

	if dev != nil {
		s.unregisterDevice(dev)
	}
	if err := s.rawio.CommitConfig(sch.ID, cfg); err != nil {
		s.log.Debug("config reset failed", "subchannel", sch.ID, "error", err)
	}
	s.reg.removeSubchannel(sch)
	s.bus.SubchannelGone(sch)
}

// unregisterDevice removes a device from the registry, releases the
// driver claim and drops the initial reference.
func (s *Subsystem) unregisterDevice(dev *Device) {
	if !s.reg.unregister(dev) {
		// Never registered (recognition still pending) or already
		// gone; just drop the initial reference.
		dev.put()
		return
	}
	sch := dev.lock()
	drv := dev.drv
	dev.drv = nil
	online := dev.online
	dev.online = false
	sch.mu.Unlock()
	if drv != nil {
		drv.Remove(dev)
	}
	if online {
		// The online hold is released with the registration.
		dev.put()
	}
	if s.notifier != nil {
		s.notifier.DeviceUnregistered(dev)
	}
	dev.put()
}

// doRemoveOrphan unregisters an orphaned device directly; there is no
// subchannel to tear down.
func (s *Subsystem) doRemoveOrphan(dev *Device) {
	s.unregisterDevice(dev)
}

// Purge unregisters all offline devices whose identity is on the
// configured blacklist.
func (s *Subsystem) Purge() int {
	blacklisted := make(map[DeviceID]bool, len(s.cfg.Blacklist))
	for _, id := range s.cfg.Blacklist {
		blacklisted[id] = true
	}
	purged := 0
	s.reg.ForEachDevice(func(dev *Device) {
		if !blacklisted[dev.ID] {
			return
		}
		sch := dev.lock()
		offline := dev.state == StateOffline && !dev.online
		sch.mu.Unlock()
		if !offline {
			return
		}
		s.log.Info("purging blacklisted device", "device", dev.ID)
		if sch := dev.Subchannel(); !sch.IsPseudo() {
			s.kick(opUnregisterSch, dev, sch)
		} else {
			s.kick(opRemoveOrphan, dev, nil)
		}
		purged++
	})
	return purged
}

// Availability renders the status text exposed on the admin surface:
// boxed, no path, no device, or good.
func (s *Subsystem) Availability(dev *Device) string {
	if dev.Subchannel() == s.reg.Orphanage() {
		return "no device"
	}
	sch := dev.lock()
	defer sch.mu.Unlock()
	switch dev.state {
	case StateBoxed:
		return "boxed"
	case StateDisconnected, StateDisconnectedSenseID, StateNotOper:
		if sch.lpm == 0 {
			return "no path"
		}
		return "no device"
	default:
		return "good"
	}
}
