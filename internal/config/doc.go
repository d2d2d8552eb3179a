// Package config loads, normalizes, and validates mediaflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEDIAFLOW_API_TOKEN. The Config type centralizes every knob the daemon and
// CLI need: state and log directories, orchestrator retry and dispatch limits,
// executor command bindings, event sinks, and cron schedules.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
