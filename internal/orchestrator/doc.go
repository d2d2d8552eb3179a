// Package orchestrator drives workflow instances from creation to a terminal
// state.
//
// Each instance is owned by one actor goroutine that makes every state
// decision through its tracker. Executors run on dispatch goroutines bounded
// by a global concurrency cap and an optional rate limiter; results, retry
// timers, and operator commands all reach the actor through its mailbox.
// State changes are published to an events.Hub and persisted through an
// optional Store after each decision.
package orchestrator
