// Package workflow defines the domain model shared by the graph, tracker and
// orchestrator packages: step and workflow states, the legal transition
// tables, immutable instance snapshots, and the error taxonomy surfaced to
// callers.
//
// Nothing in this package performs I/O or owns goroutines; it is safe to
// import from any layer.
package workflow
