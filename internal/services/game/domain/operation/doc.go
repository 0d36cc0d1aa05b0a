// Package operation applies named campaign operations against storage and
// renders per-user state snapshots.
//
// Executor satisfies the realtime executor, snapshot, and authorizer
// contracts. Every accepted write runs in one storage transaction that also
// bumps the global and campaign version counters, so a version read by a
// client always describes a committed state.
package operation
