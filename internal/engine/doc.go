// Package engine runs flows as durable, replayable step sequences.
//
// A flow body is ordinary Go code that calls Step, Call, Script, SpawnChild,
// Page, and Complete on its Context. Every step outcome is checkpointed in a
// per-run event ledger, so a pass over a run that was interrupted replays
// the recorded results and resumes at the first step without one
package engine
