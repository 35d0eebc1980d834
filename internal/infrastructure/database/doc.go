// Package database opens and migrates the daemon's SQLite store.
//
// The store holds the device lifecycle journal. It runs in WAL mode so
// history queries from the API do not block the recorder's inserts,
// and is restricted to a single writer connection to match SQLite's
// locking model.
//
// Schema changes ship as embedded up/down SQL pairs; the migrations
// package registers them into MigrationsFS at init and Open callers
// run Migrate once at startup. The file is created with owner-only
// permissions since lifecycle history identifies the attached
// hardware.
package database
