// Package memstore provides in-memory implementations of every Store
// interface in the run execution engine (run, event, checkpoint, approval,
// escalation). It backs unit tests and the demo binary; the Postgres-backed
// package under internal/store/postgres implements the same contracts for
// production use.
package memstore
