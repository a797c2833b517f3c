// Package storage defines the persistence boundary for the canvas service.
//
// Records here are persistence-oriented snapshots of domain state. Backends
// implement the Store interface; the engine is the only writer and drives
// every mutation through one Update transaction so a whole operation commits
// or nothing does. Reads go through View.
//
// Three backends exist, selected by DSN scheme: sqlite (the default
// deployment), postgres, and an in-memory store for tests and ephemeral runs.
package storage
