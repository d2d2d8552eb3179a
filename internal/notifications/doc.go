// Package notifications delivers workflow milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Sink adapts the service to the event hub so terminal workflow
// transitions produce a push without the orchestrator knowing about HTTP.
package notifications
