// Package websession resolves opaque session tokens to identities.
package websession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/platform/id"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// DefaultPruneInterval bounds how often expired sessions are swept.
const DefaultPruneInterval = time.Minute

// Authenticator validates session tokens against a SessionStore.
type Authenticator struct {
	store         storage.SessionStore
	now           func() time.Time
	pruneInterval time.Duration

	mu         sync.Mutex
	lastPruned time.Time
}

var _ contract.Authenticator = (*Authenticator)(nil)

// New builds an Authenticator. A nil now uses time.Now.
func New(store storage.SessionStore, now func() time.Time) (*Authenticator, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Authenticator{store: store, now: now, pruneInterval: DefaultPruneInterval}, nil
}

// Authenticate returns the identity bound to token. Missing and expired
// sessions are UNAUTHORIZED.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (contract.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "session token is required")
	}
	now := a.now()
	a.maybePrune(ctx, now)

	session, err := a.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "invalid session")
	}
	if err != nil {
		return contract.Identity{}, fmt.Errorf("load session: %w", err)
	}
	if !session.ExpiresAt.After(now) {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "session expired")
	}
	displayName := strings.TrimSpace(session.DisplayName)
	if displayName == "" {
		displayName = session.UserID
	}
	return contract.Identity{UserID: session.UserID, DisplayName: displayName, Email: session.Email}, nil
}

// Issue stores a new session for identity and returns its token.
func (a *Authenticator) Issue(ctx context.Context, identity contract.Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("session ttl must be positive")
	}
	token, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	now := a.now()
	err = a.store.CreateSession(ctx, storage.Session{
		Token:       token,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// maybePrune sweeps expired sessions at most once per interval. Failures are
// logged; authentication does not depend on the sweep.
func (a *Authenticator) maybePrune(ctx context.Context, now time.Time) {
	a.mu.Lock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < a.pruneInterval {
		a.mu.Unlock()
		return
	}
	a.lastPruned = now
	a.mu.Unlock()

	pruned, err := a.store.PruneSessions(ctx, now)
	if err != nil {
		log.Printf("realtime: prune sessions failed err=%v", err)
		return
	}
	if pruned > 0 {
		log.Printf("realtime: pruned expired sessions count=%d", pruned)
	}
}
