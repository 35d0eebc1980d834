// Package cio implements the lifecycle engine for channel-attached I/O
// devices: the device state machine, the subchannel binding protocol and
// the registry of bound, disconnected and orphaned devices.
//
// The package reconciles three independently-changing facts:
//
//   - physical path availability, reported by the subchannel discovery
//     collaborator via SchEvent/ChpEvent
//   - administrative intent, expressed through SetOnline/SetOffline and
//     the OnlineStore entry point used by the API layer
//   - device identity persistence across subchannel renumbering, handled
//     by the orphanage and the replacement-resolution protocol
//
// All of it hangs off a single Subsystem value (no package-level mutable
// state). Construct one with New(), call Start() to launch the worker
// pool, and Stop() to drain it:
//
//	sub := cio.New(cio.Deps{RawIO: hw, Bus: bus, Config: cfg.Recovery})
//	sub.SetLogger(log)
//	sub.Start(ctx)
//	defer sub.Stop()
//
// # Concurrency
//
// A Device inherits its lock from whichever Subchannel it is currently
// bound to (the orphanage counts as a subchannel for this purpose); the
// lock is swapped inside move operations while both parents are held.
// State transitions only happen with that lock held. Administrative calls
// block on a per-device condition variable until the machine reaches a
// stable state; they never busy-poll. Reference counts pair every deferred
// handoff (work item, timer, online hold) with exactly one acquire and one
// release.
//
// Thread Safety: all exported methods are safe for concurrent use.
package cio
