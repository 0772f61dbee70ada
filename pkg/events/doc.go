// Package events maps ledger event payloads onto run state. Each flow run
// is one timebox aggregate; its appliers fold attempt, retry, child, page,
// and completion events into an api.RunState
package events
