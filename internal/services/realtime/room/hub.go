// Package room holds per-room ephemeral shared state: presence, live
// cursors, and advisory TTL locks. Each room is guarded by its own mutex so
// contention is partitioned by room key.
package room

import (
	"sort"
	"sync"
	"time"
)

// DefaultLockTTL is how long an acquired lock stays live without a refresh.
const DefaultLockTTL = 30 * time.Second

// Config controls lock lifetime and the clock used for expiry.
type Config struct {
	LockTTL time.Duration
	Now     func() time.Time
}

// Hub lazily creates rooms by key. Rooms are never destroyed; an empty room
// holds no members, cursors, or live locks.
type Hub struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]*Room
}

// NewHub builds a hub, filling zero config values with defaults.
func NewHub(config Config) *Hub {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Hub{
		ttl:   config.LockTTL,
		now:   config.Now,
		rooms: make(map[string]*Room),
	}
}

// Room returns the room for key, creating it on first reference.
func (h *Hub) Room(key string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[key]
	if ok {
		return r
	}
	r = newRoom(key, h.ttl, h.now)
	h.rooms[key] = r
	return r
}

// Keys lists every room created so far, sorted.
func (h *Hub) Keys() []string {
	h.mu.Lock()
	keys := make([]string, 0, len(h.rooms))
	for key := range h.rooms {
		keys = append(keys, key)
	}
	h.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// LockTTL reports the configured lock lifetime.
func (h *Hub) LockTTL() time.Duration {
	return h.ttl
}
