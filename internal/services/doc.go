// Package services defines shared utilities consumed by the orchestrator, the
// step executors, and the daemon transports.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, step IDs, asset IDs, and
//     correlation identifiers for logging and tracing.
//
// Use these helpers when wiring new executors so log lines emitted deep inside
// an executor carry the same identifiers as the orchestrator's own records.
package services
