// Package builder helps programs on either side of a tartan engine.
//
// Step services use NewStepHandler and StepServer to answer the requests an
// engine makes from Context.Call. Orchestrators use Client to start runs
// and inspect them through the engine's HTTP API
package builder
