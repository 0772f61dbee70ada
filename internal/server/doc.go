// Package server implements the HTTP API of the run engine
//
// It provides endpoints for starting runs of registered flows, inspecting
// runs along with their steps, pages, and task view, and a WebSocket
// stream of ledger events
package server
