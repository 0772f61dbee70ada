// Package api defines the core data types shared by the run engine, its
// HTTP surface, and step services
//
// This package contains run and step ledger state, ledger event payloads,
// step options, JSON values, and HTTP messages
package api
