package room

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultCursorLabel = "cursor"
	maxCursorLabelRune = 64
)

// Cursor is the latest pointer position reported by one identity.
type Cursor struct {
	UserID      string
	DisplayName string
	X           int
	Y           int
	Label       string
	UpdatedAt   time.Time
}

// MarshalJSON renders the cursor with a unix-millisecond timestamp.
func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
		X           int    `json:"x"`
		Y           int    `json:"y"`
		Label       string `json:"label"`
		UpdatedAt   int64  `json:"updatedAt"`
	}{c.UserID, c.DisplayName, c.X, c.Y, c.Label, c.UpdatedAt.UnixMilli()})
}

// State is a consistent copy of everything a room publishes. Revision grows
// with every mutation, so a later copy always carries a larger value.
type State struct {
	Revision uint64
	Presence []contract.Identity
	Cursors  []Cursor
	Locks    []Lock
}

// Departure describes what a Leave removed.
type Departure struct {
	Identity contract.Identity
	// Left is false when connID was not a member.
	Left bool
	// StillPresent is set when the identity has another connection here.
	StillPresent  bool
	CursorCleared bool
	Released      []string
}

type member struct {
	connID   string
	identity contract.Identity
}

// Room is the shared state of one room key.
type Room struct {
	key string
	ttl time.Duration
	now func() time.Time

	// publishMu orders copy-and-deliver sequences; it is taken before mu.
	publishMu sync.Mutex

	mu       sync.Mutex
	revision uint64
	members  []member
	cursors  map[string]Cursor
	locks    map[string]Lock
}

func newRoom(key string, ttl time.Duration, now func() time.Time) *Room {
	return &Room{
		key:     key,
		ttl:     ttl,
		now:     now,
		cursors: make(map[string]Cursor),
		locks:   make(map[string]Lock),
	}
}

// Key returns the room key.
func (r *Room) Key() string {
	return r.key
}

// Join adds a connection. Joining twice is a no-op.
func (r *Room) Join(connID string, identity contract.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.connID == connID {
			return
		}
	}
	r.members = append(r.members, member{connID: connID, identity: identity})
	r.revision++
}

// Leave removes a connection and, in the same critical section, clears the
// departing identity's cursor and releases every lock it holds here.
func (r *Room) Leave(connID string) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out Departure
	for i, m := range r.members {
		if m.connID != connID {
			continue
		}
		out.Identity = m.identity
		out.Left = true
		r.members = append(r.members[:i:i], r.members[i+1:]...)
		break
	}
	if !out.Left {
		return out
	}
	r.revision++
	userID := out.Identity.UserID
	for _, m := range r.members {
		if m.identity.UserID == userID {
			out.StillPresent = true
			break
		}
	}
	if _, ok := r.cursors[userID]; ok {
		delete(r.cursors, userID)
		out.CursorCleared = true
	}
	for resource, lock := range r.locks {
		if lock.OwnerUserID == userID {
			delete(r.locks, resource)
			out.Released = append(out.Released, resource)
		}
	}
	sort.Strings(out.Released)
	return out
}

func (r *Room) presenceLocked() []contract.Identity {
	seen := make(map[string]bool, len(r.members))
	out := make([]contract.Identity, 0, len(r.members))
	for _, m := range r.members {
		if seen[m.identity.UserID] {
			continue
		}
		seen[m.identity.UserID] = true
		out = append(out, m.identity)
	}
	return out
}

// SetCursor records identity's latest pointer, replacing any previous entry.
func (r *Room) SetCursor(identity contract.Identity, x, y int, label string) Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Cursor{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		X:           x,
		Y:           y,
		Label:       NormalizeLabel(label),
		UpdatedAt:   r.now(),
	}
	r.cursors[identity.UserID] = c
	r.revision++
	return c
}

func (r *Room) cursorsLocked() []Cursor {
	out := make([]Cursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// State copies presence, cursors, and live locks under one critical section.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return State{
		Revision: r.revision,
		Presence: r.presenceLocked(),
		Cursors:  r.cursorsLocked(),
		Locks:    r.locksLocked(),
	}
}

// Publish copies the room state and hands it to deliver. Publishes of one
// room run one at a time, so deliveries leave in revision order and the last
// copy a member receives is the newest.
func (r *Room) Publish(deliver func(State)) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	deliver(r.State())
}

// NormalizeLabel applies NFC, strips control characters, trims, and caps the
// label length. Empty labels become "cursor".
func NormalizeLabel(label string) string {
	label = norm.NFC.String(label)
	label = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, label)
	label = strings.TrimSpace(label)
	if label == "" {
		return defaultCursorLabel
	}
	if runes := []rune(label); len(runes) > maxCursorLabelRune {
		label = strings.TrimSpace(string(runes[:maxCursorLabelRune]))
	}
	return label
}
