// Package contract defines the boundary between the realtime core and the
// collaborators it delegates to: credential checks, room authorization,
// operation execution, and per-user state snapshots.
//
// The realtime core never decides what an operation does and never persists
// anything; it only routes envelopes across these interfaces.
package contract

import (
	"context"
	"encoding/json"
)

// GlobalRoom is the sentinel room key for connections that are not scoped to
// a campaign. Results affecting it resync every connection.
const GlobalRoom = "global"

// Identity is the opaque principal attached to a connection at handshake.
type Identity struct {
	UserID      string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Versions carries the global state counter and the counter of one room.
type Versions struct {
	Global int64 `json:"global"`
	Room   int64 `json:"room"`
}

// Operation is the envelope handed to an Executor.
type Operation struct {
	Name    string
	Payload json.RawMessage
	Actor   Identity
	// ExpectedVersion, when set, must equal the current global version.
	ExpectedVersion *int64
	// RoomKey is the submitting connection's room at dispatch time.
	RoomKey string
}

// Result is what an Executor reports for an accepted operation.
type Result struct {
	Value any
	// RoomKey names the room the operation touched when it can be inferred
	// from a referenced sub-resource. Empty means unknown.
	RoomKey  string
	Versions Versions
	// Reset marks an administrative reset; every connection is resynced.
	Reset bool
}

// Snapshot is one recipient's authorized view of current state.
type Snapshot struct {
	Versions Versions `json:"versions"`
	State    any      `json:"state"`
}

// Authenticator resolves an opaque bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Authorizer decides whether an identity may join a room.
type Authorizer interface {
	CanJoin(ctx context.Context, identity Identity, roomKey string) (bool, error)
}

// Executor applies a named operation. Failures should be
// *errors.Error values from internal/platform/errors so their code and
// details reach the submitter unchanged.
type Executor interface {
	Execute(ctx context.Context, op Operation) (Result, error)
}

// RoomResolver is implemented by executors whose operations can address a
// room only indirectly, through a resource that belongs to it. RoomFor
// names the room op will touch, or "" when it cannot tell before running.
// The gateway checks locks and serializes in that room.
type RoomResolver interface {
	RoomFor(ctx context.Context, op Operation) (string, error)
}

// SnapshotProvider returns the state view one identity may see for a room.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, identity Identity, roomKey string) (Snapshot, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, identity Identity, roomKey string) (bool, error)

// CanJoin calls f.
func (f AuthorizerFunc) CanJoin(ctx context.Context, identity Identity, roomKey string) (bool, error) {
	return f(ctx, identity, roomKey)
}
