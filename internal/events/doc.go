// Package events carries workflow state changes from the orchestrator to
// observers.
//
// The Hub keeps a bounded, sequence-numbered buffer so HTTP clients can
// long-poll or stream from a cursor, and forwards every event to registered
// sinks (metrics, notifications, Redis, logging). Delivery is at-least-once:
// sinks and consumers must tolerate duplicates.
package events
