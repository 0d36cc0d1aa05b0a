// Package storage defines persistence contracts for shared campaign state.
//
// It covers users, campaigns and their members, per-user campaign selection,
// maps, tokens, fog of war, table chat, opaque sessions, and the version
// counters the realtime layer reports. Implementations (e.g., SQLite) live in
// subpackages.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrAlreadyExists: a uniqueness-constrained record already exists
package storage
