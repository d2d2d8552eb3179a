// Package daemon coordinates the long-running mediaflow process.
//
// It wires configuration, the SQLite store, the template and executor
// registries, the event hub with its sinks, the orchestrator, cron schedules,
// and the HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances. IPC and HTTP handlers call Daemon methods, which return
// transport DTOs from internal/api.
//
// Keep orchestration logic out of this package: workflow semantics live in
// internal/orchestrator and internal/tracker while the daemon focuses on
// startup, shutdown, and wiring.
package daemon
