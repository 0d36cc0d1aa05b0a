package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	auth, err := NewJWTAuthenticator("s3cret", "notdnd", fixedNow)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := auth.Issue(contract.Identity{UserID: "u1", DisplayName: "Café", Email: "u1@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	identity, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.UserID != "u1" || identity.DisplayName != "Café" || identity.Email != "u1@example.com" {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestJWTAuthenticatorRejects(t *testing.T) {
	auth, err := NewJWTAuthenticator("s3cret", "notdnd", fixedNow)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	other, _ := NewJWTAuthenticator("different", "notdnd", fixedNow)
	wrongIssuer, _ := NewJWTAuthenticator("s3cret", "someone-else", fixedNow)
	expired, _ := auth.Issue(contract.Identity{UserID: "u1"}, -time.Minute)
	forged, _ := other.Issue(contract.Identity{UserID: "u1"}, time.Hour)
	misissued, _ := wrongIssuer.Issue(contract.Identity{UserID: "u1"}, time.Hour)
	noSubject, _ := auth.Issue(contract.Identity{}, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(fixedNow().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"expired":    expired,
		"forged":     forged,
		"issuer":     misissued,
		"no subject": noSubject,
		"alg none":   none,
	} {
		_, err := auth.Authenticate(context.Background(), token)
		if !errors.Is(err, apperrors.New(apperrors.CodeUnauthorized, "")) {
			t.Errorf("%s: err = %v, want UNAUTHORIZED", name, err)
		}
	}
}

func TestNewJWTAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewJWTAuthenticator("  ", "", nil); err == nil {
		t.Fatal("expected secret error")
	}
}

func TestChainAuthenticatorRoutesByShape(t *testing.T) {
	jwtAuth, _ := NewJWTAuthenticator("s3cret", "", fixedNow)
	token, _ := jwtAuth.Issue(contract.Identity{UserID: "jwt-user"}, time.Hour)
	session := contract.AuthenticatorFunc(func(_ context.Context, token string) (contract.Identity, error) {
		if token == "sess-1" {
			return contract.Identity{UserID: "session-user"}, nil
		}
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "unknown session")
	})
	chain := ChainAuthenticator{JWT: jwtAuth, Session: session}

	if id, err := chain.Authenticate(context.Background(), token); err != nil || id.UserID != "jwt-user" {
		t.Fatalf("jwt route = %+v, %v", id, err)
	}
	if id, err := chain.Authenticate(context.Background(), "sess-1"); err != nil || id.UserID != "session-user" {
		t.Fatalf("session route = %+v, %v", id, err)
	}
	if _, err := (ChainAuthenticator{}).Authenticate(context.Background(), "x"); err == nil {
		t.Fatal("expected empty chain to refuse")
	}
}
