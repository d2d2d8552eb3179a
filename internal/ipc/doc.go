// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// The server owns the socket lifecycle and translates requests into daemon
// calls. Wire types alias the HTTP API DTOs where possible so both transports
// describe workflows the same way.
package ipc
