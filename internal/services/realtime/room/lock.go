package room

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// Lock is an advisory exclusive hold on a named resource within one room.
//
// Expiry is lazy: no timer evicts a lock. Every path that reads the lock map
// sweeps expired entries first, so a stale lock can at worst be reported
// until the next access and is never trusted.
type Lock struct {
	Resource    string
	OwnerUserID string
	OwnerName   string
	ExpiresAt   time.Time
}

// MarshalJSON renders the lock with a unix-millisecond expiry.
func (l Lock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Resource    string `json:"resource"`
		OwnerUserID string `json:"ownerUserId"`
		OwnerName   string `json:"ownerName"`
		ExpiresAt   int64  `json:"expiresAt"`
	}{l.Resource, l.OwnerUserID, l.OwnerName, l.ExpiresAt.UnixMilli()})
}

// Acquire installs or refreshes a lock for identity. When another identity
// holds a live lock on resource, it returns that lock and false.
func (r *Room) Acquire(resource string, identity contract.Identity) (Lock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	if existing, ok := r.locks[resource]; ok && existing.OwnerUserID != identity.UserID {
		return existing, false
	}
	lock := Lock{
		Resource:    resource,
		OwnerUserID: identity.UserID,
		OwnerName:   identity.DisplayName,
		ExpiresAt:   r.now().Add(r.ttl),
	}
	r.locks[resource] = lock
	r.revision++
	return lock, true
}

// Release drops the lock on resource when userID is its live owner.
func (r *Room) Release(resource, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	existing, ok := r.locks[resource]
	if !ok || existing.OwnerUserID != userID {
		return false
	}
	delete(r.locks, resource)
	r.revision++
	return true
}

// Guard exposes lock reads to code running inside Exclusive.
type Guard struct {
	r     *Room
	swept bool
}

// Holder reports the live lock on resource, if any. Expired locks found on
// the way are evicted.
func (g *Guard) Holder(resource string) (Lock, bool) {
	if g.r.sweepLocked() {
		g.swept = true
	}
	lock, ok := g.r.locks[resource]
	return lock, ok
}

// Exclusive runs fn while holding the room's mutex, so no acquire, release,
// or membership change in this room can interleave with it. fn must not call
// other Room methods. swept reports whether fn evicted expired locks, in which
// case the caller should republish the room's locks.
func (r *Room) Exclusive(fn func(*Guard) error) (swept bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &Guard{r: r}
	err = fn(g)
	return g.swept, err
}

func (r *Room) locksLocked() []Lock {
	out := make([]Lock, 0, len(r.locks))
	for _, lock := range r.locks {
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

func (r *Room) sweepLocked() bool {
	now := r.now()
	swept := false
	for resource, lock := range r.locks {
		if !lock.ExpiresAt.After(now) {
			delete(r.locks, resource)
			swept = true
		}
	}
	if swept {
		r.revision++
	}
	return swept
}
