// Package journal persists the device lifecycle journal.
//
// Every registration, unregistration and state transition the core
// reports is written to the device_journal table in SQLite. The
// Recorder adapts the core's notification callbacks to asynchronous
// inserts so database latency never stalls the state machine.
package journal
