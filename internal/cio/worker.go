package cio

import (
	"sync"
)

// opKind tags a deferred-work request. One kind per operation; a work
// slot is never reused for unrelated callbacks.
type opKind int

const (
	opRecognize     opKind = iota // run sense-id for a device in recognition
	opRegister                    // make a recognized device visible
	opUnregisterSch               // tear down a subchannel and its device
	opRemoveOrphan                // unregister an orphaned device
	opMoveToSch                   // rebind a matched device to a probing subchannel
	opOrphan                      // park a renumbered device in the orphanage
	opOnlineVerify                // path verification for an online attempt
	opVerify                      // re-verification after a path event
	opReprobe                     // refresh status and restart recognition
	opQuiesce                     // offline quiesce
	opSweep                       // recovery sweep over disconnected devices
)

var opNames = map[opKind]string{
	opRecognize:     "recognize",
	opRegister:      "register",
	opUnregisterSch: "unregister_subchannel",
	opRemoveOrphan:  "remove_orphan",
	opMoveToSch:     "move_to_subchannel",
	opOrphan:        "move_to_orphanage",
	opOnlineVerify:  "online_verify",
	opVerify:        "verify",
	opReprobe:       "reprobe",
	opQuiesce:       "quiesce",
	opSweep:         "sweep",
}

func (k opKind) String() string { return opNames[k] }

// task is one queued operation. dev may be nil for subchannel-only and
// subsystem-wide operations.
type task struct {
	kind opKind
	dev  *Device
	sch  *Subchannel
}

// workqueue is the bounded slow-path executor. The default is a single
// worker, which keeps deferred operations serialized the way the
// original single-threaded queue did; tests and busy systems may raise
// the count.
type workqueue struct {
	tasks   chan task
	workers int
	run     func(task)

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	idle    sync.WaitGroup // tracks in-flight tasks for Drain
}

func newWorkqueue(workers, depth int, run func(task)) *workqueue {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 256
	}
	return &workqueue{
		tasks:   make(chan task, depth),
		workers: workers,
		run:     run,
	}
}

func (w *workqueue) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop()
	}
}

func (w *workqueue) loop() {
	defer w.wg.Done()
	for t := range w.tasks {
		w.run(t)
		w.idle.Done()
	}
}

// submit enqueues a task. Returns false when the queue is stopped or
// full; callers treat that as a structural failure and log it.
func (w *workqueue) submit(t task) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.idle.Add(1)
	select {
	case w.tasks <- t:
		w.mu.Unlock()
		return true
	default:
		w.idle.Done()
		w.mu.Unlock()
		return false
	}
}

// drain blocks until every task submitted so far has finished. Used by
// WaitInitialized and tests; new submissions during a drain are waited
// for as well.
func (w *workqueue) drain() {
	w.idle.Wait()
}

func (w *workqueue) stop() {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.tasks)
	w.wg.Wait()
}
