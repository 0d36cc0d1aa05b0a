// Package sqlite implements campaign persistence contracts on SQLite.
//
// Why this package exists:
// - It is the single writer of campaign state and its version counters.
// - It runs every operation in one transaction so a version bump is never
//   visible without the write it describes.
// - It owns migration behavior for the embedded schema.
package sqlite
