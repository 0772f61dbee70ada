// Package util provides small generic helpers shared across the engine,
// its API types, and the HTTP surface
package util
