// Package template models workflow templates, validates them into compiled
// dependency graphs, and keeps the registry of published definitions.
//
// Templates are immutable once registered. The registry identifies a
// template's content by a murmur3 hash of its canonical JSON and caches the
// compiled graph for each hash so workflow starts do not revalidate.
package template
