// Package aurora is the execution core of a task-automation and build
// orchestrator: dependency resolution, caching, variable interpolation,
// sandboxed plugin hooks, and bounded-parallel scheduling over a validated
// Beamfile value.
//
// The package never reads or writes Beamfile text. It is handed a *Beamfile
// value by an external collaborator (a surface-syntax parser, out of scope
// here) and drives that value to a completed Run.
package aurora
