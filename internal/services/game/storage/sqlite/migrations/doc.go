// Package migrations embeds SQL migration scripts for the campaign store.
//
// Why this package exists:
// - It centralizes schema history for campaign state and sessions.
// - It allows upgrades without manual operator SQL.
package migrations
