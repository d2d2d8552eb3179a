// Package store persists templates and workflow records in SQLite.
//
// Workflow rows keep the full instance record as JSON alongside indexed
// columns (state, template, asset) used for filtering. The schema is
// versioned; a mismatch is reported as ErrSchemaMismatch rather than
// migrated in place.
package store
