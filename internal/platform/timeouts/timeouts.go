// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers,
// including WebSocket upgrade requests.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SocketWrite caps a single frame write to a realtime peer so one slow
// reader cannot stall a room broadcast.
const SocketWrite = 5 * time.Second

// AuthCall caps the authentication and authorization callbacks run while
// negotiating an upgrade.
const AuthCall = 3 * time.Second

// Snapshot caps one per-recipient state snapshot fetch during a resync.
const Snapshot = 3 * time.Second
