// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates workflow snapshots and template definitions into
// transport-friendly DTOs that the CLI and other consumers can render without
// coupling to internal types.
//
// # Key Types
//
// Workflow/Step: an instance snapshot with steps in template declaration
// order, per-step progress scaled to 0-100, and attempt history.
//
// Template: a registered template summary with its executor kinds.
//
// DaemonStatus: daemon running state, workflow counts, dispatch load,
// preflight checks, and external binary availability.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Step payloads pass through as
// json.RawMessage to avoid double-encoding. ErrorCode gives clients a stable
// code for every domain sentinel.
package api
