package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"golang.org/x/text/unicode/norm"
)

// identityClaims is the bearer token payload.
type identityClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// JWTAuthenticator verifies HS256 bearer tokens whose subject is the user id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthenticator builds a verifier. An empty issuer skips the issuer check.
func NewJWTAuthenticator(secret, issuer string, now func() time.Time) (*JWTAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &JWTAuthenticator{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: now}, nil
}

// Authenticate implements contract.Authenticator.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (contract.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "token is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return contract.Identity{}, apperrors.Wrap(apperrors.CodeUnauthorized, "token is expired", err)
		}
		return contract.Identity{}, apperrors.Wrap(apperrors.CodeUnauthorized, "token is invalid", err)
	}
	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "token subject is required")
	}
	name := norm.NFC.String(strings.TrimSpace(claims.Name))
	if name == "" {
		name = userID
	}
	return contract.Identity{UserID: userID, DisplayName: name, Email: strings.TrimSpace(claims.Email)}, nil
}

// Issue signs a token for identity valid for ttl.
func (a *JWTAuthenticator) Issue(identity contract.Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  identity.DisplayName,
		Email: identity.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ChainAuthenticator routes JWT-shaped tokens to JWT and everything else to
// Session. Either may be nil.
type ChainAuthenticator struct {
	JWT     contract.Authenticator
	Session contract.Authenticator
}

// Authenticate implements contract.Authenticator.
func (c ChainAuthenticator) Authenticate(ctx context.Context, token string) (contract.Identity, error) {
	token = strings.TrimSpace(token)
	if looksLikeJWT(token) && c.JWT != nil {
		return c.JWT.Authenticate(ctx, token)
	}
	if c.Session != nil {
		return c.Session.Authenticate(ctx, token)
	}
	return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "no authenticator accepts this token")
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2 && strings.HasPrefix(token, "eyJ")
}
