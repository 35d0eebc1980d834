// Package hal provides the channel hardware backend for the daemon.
//
// Real channel hardware needs platform firmware access this daemon does
// not have, so the shipped backend is a simulator: a fixed population of
// subchannels described in the configuration file. Devices answer
// recognition with their configured identity and accept every path
// operation. Runtime attach/detach is driven through the Detach and
// Reattach methods, which feed the core's machine-check evaluator the
// same way real crw events would.
package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RaduG/chanio-core/internal/cio"
	"github.com/RaduG/chanio-core/internal/infrastructure/config"
)

// Logger is the narrow logging interface the simulator needs.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// simDevice is the simulator's view of one subchannel.
type simDevice struct {
	devno    uint16
	info     cio.DeviceInfo
	pim      uint8
	attached bool
	enabled  bool
	intparm  uint32
}

// Simulator implements cio.RawIO and cio.Bus over a configured device
// population.
type Simulator struct {
	log Logger

	mu      sync.Mutex
	devices map[cio.SchID]*simDevice
	core    *cio.Subsystem
}

// New builds a simulator from the hal configuration section.
func New(cfg config.HALConfig) *Simulator {
	sim := &Simulator{
		log:     noopLogger{},
		devices: make(map[cio.SchID]*simDevice),
	}
	for _, d := range cfg.Devices {
		pim := d.PIM
		if pim == 0 {
			pim = 0x80
		}
		id := cio.SchID{SSID: d.SSID, Number: d.Subchannel}
		sim.devices[id] = &simDevice{
			devno: d.Devno,
			info: cio.DeviceInfo{
				CUType:   d.CUType,
				CUModel:  d.CUModel,
				DevType:  d.DevType,
				DevModel: d.DevModel,
			},
			pim:      pim,
			attached: true,
		}
	}
	return sim
}

// SetLogger replaces the noop logger.
func (sim *Simulator) SetLogger(log Logger) { sim.log = log }

// DeviceCount returns the size of the configured population.
func (sim *Simulator) DeviceCount() int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return len(sim.devices)
}

// Attach probes every configured subchannel into the core. Call once
// after the core has started.
func (sim *Simulator) Attach(core *cio.Subsystem) error {
	sim.mu.Lock()
	sim.core = core
	ids := make([]cio.SchID, 0, len(sim.devices))
	for id := range sim.devices {
		ids = append(ids, id)
	}
	sim.mu.Unlock()

	for _, id := range ids {
		if err := core.Probe(cio.NewSubchannel(id)); err != nil {
			return fmt.Errorf("probing subchannel %v: %w", id, err)
		}
		sim.log.Debug("subchannel probed", "subchannel", id)
	}
	return nil
}

// Shutdown quiesces every registered subchannel through the core. Call
// at daemon teardown, before the core stops; in-flight I/O is cancelled
// with the core's bounded grace period.
func (sim *Simulator) Shutdown() {
	sim.mu.Lock()
	core := sim.core
	sim.mu.Unlock()
	if core == nil {
		return
	}
	for _, sch := range core.Registry().Subchannels() {
		sim.log.Debug("quiescing subchannel", "subchannel", sch.ID)
		core.Shutdown(sch)
	}
}

// Detach marks the device behind a subchannel gone and tells the core to
// re-evaluate, as a channel-report event would.
func (sim *Simulator) Detach(id cio.SchID) error {
	sim.mu.Lock()
	dev, ok := sim.devices[id]
	if ok {
		dev.attached = false
	}
	core := sim.core
	sim.mu.Unlock()
	if !ok {
		return fmt.Errorf("hal: unknown subchannel %v", id)
	}
	sim.log.Info("device detached", "subchannel", id)
	return sim.event(core, id)
}

// Reattach brings a detached device back.
func (sim *Simulator) Reattach(id cio.SchID) error {
	sim.mu.Lock()
	dev, ok := sim.devices[id]
	if ok {
		dev.attached = true
	}
	core := sim.core
	sim.mu.Unlock()
	if !ok {
		return fmt.Errorf("hal: unknown subchannel %v", id)
	}
	sim.log.Info("device reattached", "subchannel", id)
	return sim.event(core, id)
}

// event routes a status change to the evaluator of the subchannel
// currently registered under id. The fast path defers to the slow path
// with ErrRetry for devices that need deferred handling.
func (sim *Simulator) event(core *cio.Subsystem, id cio.SchID) error {
	if core == nil {
		return fmt.Errorf("hal: simulator not attached to a core")
	}
	for _, sch := range core.Registry().Subchannels() {
		if sch.ID == id {
			err := core.SchEvent(sch, false)
			if errors.Is(err, cio.ErrRetry) {
				err = core.SchEvent(sch, true)
			}
			return err
		}
	}
	// Not registered: treat as fresh hotplug.
	return core.Probe(cio.NewSubchannel(id))
}

// === cio.RawIO ===

func (sim *Simulator) UpdateStatus(id cio.SchID) (cio.PathStatus, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, ok := sim.devices[id]
	if !ok || !dev.attached {
		return cio.PathStatus{}, cio.ErrNotOperational
	}
	return cio.PathStatus{
		DNV:   true,
		Devno: dev.devno,
		PIM:   dev.pim,
		PAM:   dev.pim,
		POM:   dev.pim,
	}, nil
}

func (sim *Simulator) CommitConfig(id cio.SchID, cfg cio.SubchannelConfig) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, ok := sim.devices[id]
	if !ok {
		return cio.ErrNotOperational
	}
	dev.enabled = cfg.Ena
	dev.intparm = cfg.Intparm
	return nil
}

func (sim *Simulator) EnableSubchannel(id cio.SchID) error {
	return sim.setEnabled(id, true)
}

func (sim *Simulator) DisableSubchannel(id cio.SchID) error {
	return sim.setEnabled(id, false)
}

func (sim *Simulator) setEnabled(id cio.SchID, on bool) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, ok := sim.devices[id]
	if !ok {
		return cio.ErrNotOperational
	}
	dev.enabled = on
	return nil
}

func (sim *Simulator) SenseID(_ context.Context, id cio.SchID, _ uint8) (cio.DeviceInfo, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, ok := sim.devices[id]
	if !ok || !dev.attached {
		return cio.DeviceInfo{}, cio.ErrNotOperational
	}
	return dev.info, nil
}

func (sim *Simulator) VerifyPaths(_ context.Context, id cio.SchID, paths uint8) (uint8, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	dev, ok := sim.devices[id]
	if !ok || !dev.attached {
		return 0, cio.ErrNotOperational
	}
	mask := paths & dev.pim
	if mask == 0 {
		return 0, cio.ErrNoPath
	}
	return mask, nil
}

func (sim *Simulator) HaltClear(cio.SchID) error { return nil }

// StealLock always succeeds; the simulator never boxes devices on its
// own, but force-online paths still exercise the call.
func (sim *Simulator) StealLock(context.Context, cio.SchID) error { return nil }

// === cio.Bus ===

// SubchannelGone drops the core's last reference; the simulator keeps
// the configuration entry so the device can be reattached later.
func (sim *Simulator) SubchannelGone(sch *cio.Subchannel) {
	sim.log.Debug("subchannel released", "subchannel", sch.ID)
}

// ProbeDevice re-discovers the subchannel currently serving an identity.
// The core calls this after parking a device in the orphanage.
func (sim *Simulator) ProbeDevice(id cio.DeviceID) error {
	sim.mu.Lock()
	var schID cio.SchID
	found := false
	for sid, dev := range sim.devices {
		if sid.SSID == id.SSID && dev.devno == id.Devno && dev.attached {
			schID = sid
			found = true
			break
		}
	}
	core := sim.core
	sim.mu.Unlock()

	if !found {
		return cio.ErrNoDevice
	}
	if core == nil {
		return fmt.Errorf("hal: simulator not attached to a core")
	}
	return core.Probe(cio.NewSubchannel(schID))
}
