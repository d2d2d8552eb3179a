// Package logs reads the daemon's JSON log file for `mediaflow logs`.
//
// Tail returns the last N lines or everything after a byte offset and can
// poll for new lines in follow mode. Filter narrows records by level and by
// the workflow, step or component they belong to.
package logs
