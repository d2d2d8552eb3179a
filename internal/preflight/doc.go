// Package preflight provides readiness checks for filesystem paths, external
// binaries, and services that mediaflow depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failing check before
//     accepting work, so a misconfigured output directory surfaces early.
//   - The CLI "mediaflow status" command renders the same results as a table.
//
// Each service check is gated by its config setting; unconfigured services are
// skipped.
package preflight
