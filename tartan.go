// Package tartan is a durable step execution engine. Every named step of
// a flow run is recorded in an event-sourced ledger, so a restarted
// process resumes each run where it left off
package tartan

const (
	Name    = "tartan"
	Version = "0.3.0"
)
